package model

import (
	"strings"
	"time"
)

// Field names a globally unique Profile attribute.
type Field string

const (
	FieldUsername     Field = "username"
	FieldEmail        Field = "email"
	FieldMobileNumber Field = "mobile_number"
)

// UniqueFields lists the Profile attributes checked before provisioning, in order.
var UniqueFields = []Field{FieldUsername, FieldEmail, FieldMobileNumber}

func ParseField(s string) (Field, bool) {
	switch f := Field(strings.TrimSpace(s)); f {
	case FieldUsername, FieldEmail, FieldMobileNumber:
		return f, true
	}
	return "", false
}

// Profile is the application-side record, one-to-one with an Identity.
type Profile struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	Username       string    `json:"username"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	FullName       string    `json:"full_name"`
	MobileNumber   string    `json:"mobile_number"`
	StreetAddress  string    `json:"street_address,omitempty"`
	BuildingNumber string    `json:"building_number,omitempty"`
	City           string    `json:"city,omitempty"`
	State          string    `json:"state,omitempty"`
	Country        string    `json:"country,omitempty"`
	County         string    `json:"county,omitempty"`
	Zipcode        string    `json:"zipcode,omitempty"`
	IsAdmin        bool      `json:"is_admin"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Value returns the profile's value for a unique field.
func (p Profile) Value(f Field) string {
	switch f {
	case FieldUsername:
		return p.Username
	case FieldEmail:
		return p.Email
	case FieldMobileNumber:
		return p.MobileNumber
	}
	return ""
}

// NewAccount carries everything a signup submits.
type NewAccount struct {
	Username       string `json:"username"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	MobileNumber   string `json:"mobileNumber"`
	StreetAddress  string `json:"streetAddress,omitempty"`
	BuildingNumber string `json:"buildingNumber,omitempty"`
	City           string `json:"city,omitempty"`
	State          string `json:"state,omitempty"`
	Country        string `json:"country,omitempty"`
	County         string `json:"county,omitempty"`
	Zipcode        string `json:"zipcode,omitempty"`
}

// Normalize trims every field except the password.
func (a NewAccount) Normalize() NewAccount {
	a.Username = strings.TrimSpace(a.Username)
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	a.FirstName = strings.TrimSpace(a.FirstName)
	a.LastName = strings.TrimSpace(a.LastName)
	a.MobileNumber = strings.TrimSpace(a.MobileNumber)
	a.StreetAddress = strings.TrimSpace(a.StreetAddress)
	a.BuildingNumber = strings.TrimSpace(a.BuildingNumber)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.Country = strings.TrimSpace(a.Country)
	a.County = strings.TrimSpace(a.County)
	a.Zipcode = strings.TrimSpace(a.Zipcode)
	return a
}

// Profile builds the profile row for an account bound to identityID.
func (a NewAccount) Profile(identityID string) Profile {
	return Profile{
		ID:             identityID,
		Email:          a.Email,
		Username:       a.Username,
		FirstName:      a.FirstName,
		LastName:       a.LastName,
		FullName:       strings.TrimSpace(a.FirstName + " " + a.LastName),
		MobileNumber:   a.MobileNumber,
		StreetAddress:  a.StreetAddress,
		BuildingNumber: a.BuildingNumber,
		City:           a.City,
		State:          a.State,
		Country:        a.Country,
		County:         a.County,
		Zipcode:        a.Zipcode,
	}
}

// AccountStats summarises both stores for the admin dashboard.
type AccountStats struct {
	Profiles              int `json:"profiles"`
	AdminProfiles         int `json:"admin_profiles"`
	Identities            int `json:"identities"`
	UnconfirmedIdentities int `json:"unconfirmed_identities"`
}
