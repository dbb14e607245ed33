package model

import "time"

// Customer, Professional and Service are read-only views owned by other modules.

type Customer struct {
	ID    string
	Name  string
	Phone string
	Email string
}

type Professional struct {
	ID   string
	Name string
}

type Service struct {
	ID              string
	Name            string
	DurationMinutes int
}

func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

type RefKind string

const (
	RefCustomer     RefKind = "customer"
	RefProfessional RefKind = "professional"
	RefService      RefKind = "service"
	RefUser         RefKind = "user"
)
