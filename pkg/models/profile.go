package models

// OrganizationProfile is the registered profile of a regulated organization.
// It is owned by the registration workflow; this service only reads it.
type OrganizationProfile struct {
	ID                  string   `json:"id" yaml:"id"`
	Name                string   `json:"name" yaml:"name"`
	Industry            string   `json:"industry" yaml:"industry"`
	BusinessCategory    string   `json:"business_category" yaml:"business_category"`
	BusinessSubCategory string   `json:"business_sub_category" yaml:"business_sub_category"`
	Description         string   `json:"description" yaml:"description"`
	Services            []string `json:"services" yaml:"services"`
	Country             string   `json:"country" yaml:"country"`
	// Regulators holds the confirmed regulator codes, if any.
	Regulators []string `json:"regulators,omitempty" yaml:"regulators"`
}

// GenericProfile is used when a request does not name an organization.
func GenericProfile() *OrganizationProfile {
	return &OrganizationProfile{
		Name:             "Financial Institution",
		Industry:         "Financial Services",
		BusinessCategory: "Regulated Entity",
		Country:          "Nigeria",
	}
}

// Regulator describes an issuing authority known to the service.
type Regulator struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Regulators is the registry of authorities the oracle may suggest.
var Regulators = []Regulator{
	{Code: "CBN", Description: "Central Bank of Nigeria - Regulates banks, payment service providers, fintech, and financial institutions"},
	{Code: "NDPC", Description: "Nigeria Data Protection Commission - Regulates data protection and privacy compliance"},
	{Code: "NDIC", Description: "Nigeria Deposit Insurance Corporation - Regulates deposit-taking institutions"},
	{Code: "SEC", Description: "Securities and Exchange Commission - Regulates capital markets, investments, securities"},
	{Code: "FCCPC", Description: "Federal Competition and Consumer Protection Commission - Regulates consumer protection and fair competition"},
	{Code: "EFCC", Description: "Economic and Financial Crimes Commission - Regulates anti-money laundering and financial crimes prevention"},
	{Code: "NAICOM", Description: "National Insurance Commission - Regulates insurance companies and related services"},
}

// IsKnownRegulator reports whether code is in the registry.
func IsKnownRegulator(code string) bool {
	for _, r := range Regulators {
		if r.Code == code {
			return true
		}
	}
	return false
}
