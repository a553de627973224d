package classify

import "net/http"

// Category is the failure taxonomy shared by every resilience component.
type Category string

const (
	CategoryValidation     Category = "validation"
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryDatabase       Category = "database"
	CategoryExternalAPI    Category = "external_api"
	CategorySystem         Category = "system"
	CategoryBusinessLogic  Category = "business_logic"
	CategoryNetwork        Category = "network"
	CategoryTimeout        Category = "timeout"
)

// Categories lists every known category. Useful for configuration validation
// and for iterating default retry policies.
func Categories() []Category {
	return []Category{
		CategoryValidation,
		CategoryAuthentication,
		CategoryAuthorization,
		CategoryDatabase,
		CategoryExternalAPI,
		CategorySystem,
		CategoryBusinessLogic,
		CategoryNetwork,
		CategoryTimeout,
	}
}

// Valid reports whether the category is one of the known constants.
func (c Category) Valid() bool {
	switch c {
	case CategoryValidation, CategoryAuthentication, CategoryAuthorization,
		CategoryDatabase, CategoryExternalAPI, CategorySystem,
		CategoryBusinessLogic, CategoryNetwork, CategoryTimeout:
		return true
	default:
		return false
	}
}

// Retryable is the fixed per-category retryability table. Message-based
// overrides in Classify may widen it, never narrow it.
func (c Category) Retryable() bool {
	switch c {
	case CategoryTimeout, CategoryNetwork, CategoryExternalAPI, CategoryDatabase:
		return true
	case CategoryValidation, CategoryAuthentication, CategoryAuthorization,
		CategorySystem, CategoryBusinessLogic:
		return false
	default:
		return false
	}
}

// HTTPStatus maps the category to the status class an outer application
// boundary should translate it to.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryValidation:
		return http.StatusBadRequest
	case CategoryAuthentication:
		return http.StatusUnauthorized
	case CategoryAuthorization:
		return http.StatusForbidden
	case CategoryBusinessLogic:
		return http.StatusUnprocessableEntity
	case CategoryTimeout:
		return http.StatusGatewayTimeout
	case CategoryExternalAPI:
		return http.StatusBadGateway
	case CategoryNetwork:
		return http.StatusServiceUnavailable
	case CategoryDatabase, CategorySystem:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// severity is the per-category baseline; Classify may escalate to critical.
func (c Category) severity() Severity {
	switch c {
	case CategorySystem:
		return SeverityCritical
	case CategoryDatabase, CategoryAuthorization:
		return SeverityHigh
	case CategoryBusinessLogic, CategoryExternalAPI, CategoryTimeout:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// fallbackAvailable reports whether callers typically can serve a degraded
// answer for failures of this category.
func (c Category) fallbackAvailable() bool {
	switch c {
	case CategoryExternalAPI, CategoryNetwork, CategoryTimeout, CategoryDatabase:
		return true
	default:
		return false
	}
}

// requiresUserAction reports whether the failure cannot be resolved without
// the end user changing their input or credentials.
func (c Category) requiresUserAction() bool {
	switch c {
	case CategoryValidation, CategoryAuthentication, CategoryAuthorization:
		return true
	default:
		return false
	}
}

// Severity ranks how urgently a classified failure needs attention.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}
