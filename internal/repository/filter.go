package repository

import (
	"strings"

	"github.com/hongminglow/flatkeeper/internal/models"
)

// PaidStatus narrows a tenant listing by payment state.
type PaidStatus string

const (
	PaidAll    PaidStatus = "all"
	PaidOnly   PaidStatus = "paid"
	UnpaidOnly PaidStatus = "unpaid"
)

// TenantFilter is the admin tenant list query. Search matches tenant name,
// contact, property name or flat number, case-insensitively.
type TenantFilter struct {
	Search     string
	PropertyID string
	FlatID     string
	Status     PaidStatus
}

// FilterTenants applies f, resolving property names and flat numbers from
// the given collections.
func FilterTenants(tenants []models.Tenant, properties []models.Property, flats []models.Flat, f TenantFilter) []models.Tenant {
	propertyNames := make(map[string]string, len(properties))
	for _, p := range properties {
		propertyNames[p.ID] = p.Name
	}
	flatNumbers := make(map[string]string, len(flats))
	for _, fl := range flats {
		flatNumbers[fl.ID] = fl.FlatNumber
	}

	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]models.Tenant, 0, len(tenants))
	for _, t := range tenants {
		if f.PropertyID != "" && t.PropertyID != f.PropertyID {
			continue
		}
		if f.FlatID != "" && t.FlatID != f.FlatID {
			continue
		}
		switch f.Status {
		case PaidOnly:
			if !t.IsPaid {
				continue
			}
		case UnpaidOnly:
			if t.IsPaid {
				continue
			}
		}
		if search != "" && !matchesAny(search, t.Name, t.Contact, propertyNames[t.PropertyID], flatNumbers[t.FlatID]) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func matchesAny(needle string, haystacks ...string) bool {
	for _, h := range haystacks {
		if strings.Contains(strings.ToLower(h), needle) {
			return true
		}
	}
	return false
}
