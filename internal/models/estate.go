package models

import (
	"strings"
	"time"

	"github.com/hongminglow/flatkeeper/internal/errs"
)

// DueDateLayout is the calendar format used for tenant due dates.
const DueDateLayout = "2006-01-02"

// NotAvailable fills projection fields whose reference could not be resolved.
const NotAvailable = "N/A"

// NormalizeContact trims a tenant contact and lower-cases it when it is an
// email address, matching how account emails are stored. Other contacts,
// such as phone numbers, keep their form.
func NormalizeContact(contact string) string {
	contact = strings.TrimSpace(contact)
	if strings.Contains(contact, "@") {
		return strings.ToLower(contact)
	}
	return contact
}

// Property is a building or complex owned by an administrator.
type Property struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"createdAt"`
}

// Flat is a unit inside a property.
type Flat struct {
	ID         string    `json:"id,omitempty"`
	PropertyID string    `json:"propertyId"`
	FlatNumber string    `json:"flatNumber"`
	AreaSqFt   float64   `json:"areaSqFt"`
	IsOccupied bool      `json:"isOccupied"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Tenant is the private, authoritative tenant record.
type Tenant struct {
	ID                string    `json:"id,omitempty"`
	Name              string    `json:"name"`
	Contact           string    `json:"contact"`
	PropertyID        string    `json:"propertyId"`
	FlatID            string    `json:"flatId"`
	MaintenanceAmount float64   `json:"maintenanceAmount"`
	DueDate           string    `json:"dueDate"`
	IsPaid            bool      `json:"isPaid"`
	CreatedAt         time.Time `json:"createdAt"`
}

// TenantProjection is the public, contact-keyed copy of a tenant.
type TenantProjection struct {
	TenantID          string    `json:"tenantId"`
	Name              string    `json:"name"`
	Contact           string    `json:"contact"`
	PropertyID        string    `json:"propertyId"`
	PropertyName      string    `json:"propertyName"`
	PropertyAddress   string    `json:"propertyAddress"`
	FlatID            string    `json:"flatId"`
	FlatNumber        string    `json:"flatNumber"`
	MaintenanceAmount float64   `json:"maintenanceAmount"`
	DueDate           string    `json:"dueDate"`
	IsPaid            bool      `json:"isPaid"`
	LastUpdated       time.Time `json:"lastUpdated"`
}

// PropertyInput carries the editable fields of a property.
type PropertyInput struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Normalize trims whitespace and validates required fields.
func (in PropertyInput) Normalize() (PropertyInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Address = strings.TrimSpace(in.Address)
	if in.Name == "" || in.Address == "" {
		return in, errs.New(errs.CodeValidation, "property name and address are required")
	}
	return in, nil
}

// FlatInput carries the editable fields of a flat.
type FlatInput struct {
	PropertyID string  `json:"propertyId"`
	FlatNumber string  `json:"flatNumber"`
	AreaSqFt   float64 `json:"areaSqFt"`
	IsOccupied bool    `json:"isOccupied"`
}

func (in FlatInput) Normalize() (FlatInput, error) {
	in.PropertyID = strings.TrimSpace(in.PropertyID)
	in.FlatNumber = strings.TrimSpace(in.FlatNumber)
	if in.PropertyID == "" || in.FlatNumber == "" {
		return in, errs.New(errs.CodeValidation, "flat property and number are required")
	}
	if in.AreaSqFt <= 0 {
		return in, errs.New(errs.CodeValidation, "flat area must be positive")
	}
	return in, nil
}

// TenantInput carries the editable fields of a tenant. IsPaid is ignored on
// create; new tenants always start unpaid.
type TenantInput struct {
	Name              string  `json:"name"`
	Contact           string  `json:"contact"`
	PropertyID        string  `json:"propertyId"`
	FlatID            string  `json:"flatId"`
	MaintenanceAmount float64 `json:"maintenanceAmount"`
	DueDate           string  `json:"dueDate"`
	IsPaid            bool    `json:"isPaid"`
}

func (in TenantInput) Normalize() (TenantInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Contact = NormalizeContact(in.Contact)
	in.PropertyID = strings.TrimSpace(in.PropertyID)
	in.FlatID = strings.TrimSpace(in.FlatID)
	in.DueDate = strings.TrimSpace(in.DueDate)
	if in.Name == "" || in.Contact == "" || in.PropertyID == "" || in.FlatID == "" || in.DueDate == "" {
		return in, errs.New(errs.CodeValidation, "all tenant fields are required")
	}
	if strings.Contains(in.Contact, "/") {
		return in, errs.New(errs.CodeValidation, "tenant contact must not contain '/'")
	}
	if in.MaintenanceAmount <= 0 {
		return in, errs.New(errs.CodeValidation, "maintenance amount must be positive")
	}
	if _, err := time.Parse(DueDateLayout, in.DueDate); err != nil {
		return in, errs.New(errs.CodeValidation, "due date must be formatted YYYY-MM-DD")
	}
	return in, nil
}
