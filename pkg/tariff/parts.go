package tariff

import (
	"fmt"
	"regexp"
)

// RegexTariffParts matches a full tariff code, e.g. E-1R-AGILE-23-12-06-C.
const RegexTariffParts = `^((?P<energy>[EG])-(?P<rate>[0-9A-Z]+)-(?P<product_code>[A-Z0-9-]+)-(?P<region>[A-Z]))$`

var tariffPartsRe = regexp.MustCompile(RegexTariffParts)

// TariffParts is a tariff code split into its components.
type TariffParts struct {
	// Energy is E for electricity and G for gas.
	Energy      string `json:"energy"`
	Rate        string `json:"rate"`
	ProductCode string `json:"productCode"`
	Region      string `json:"region"`
}

// Parts splits a tariff code into its components.
func Parts(code string) (TariffParts, error) {
	m := tariffPartsRe.FindStringSubmatch(code)
	if m == nil {
		return TariffParts{}, fmt.Errorf("invalid tariff code: %q", code)
	}
	return TariffParts{
		Energy:      m[tariffPartsRe.SubexpIndex("energy")],
		Rate:        m[tariffPartsRe.SubexpIndex("rate")],
		ProductCode: m[tariffPartsRe.SubexpIndex("product_code")],
		Region:      m[tariffPartsRe.SubexpIndex("region")],
	}, nil
}

// IsValid reports whether code is a well formed tariff code.
func IsValid(code string) bool {
	return tariffPartsRe.MatchString(code)
}
