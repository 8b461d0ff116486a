package prompts

import (
	"fmt"
	"strings"

	"sms-agent/internal/domain"
	"sms-agent/internal/domain/model"
)

// Version is the process-wide prompt schema selector (config inference.prompt_version).
type Version string

const (
	V1 Version = "V1"
	V2 Version = "V2"
)

// ParseVersion accepts "v1"/"V1"/"v2"/"V2"; empty means V1.
func ParseVersion(s string) (Version, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(V1):
		return V1, nil
	case string(V2):
		return V2, nil
	}
	return "", fmt.Errorf("%w: unknown prompt version %q", domain.ErrConfiguration, s)
}

// Variant is one supported version x tier combination. Its string form is
// stored on every outbound row as prompt_version.
type Variant string

const (
	VariantV1       Variant = "V1"
	VariantV2Unpaid Variant = "V2-unpaid"
	VariantV2Paid   Variant = "V2-paid"
)

// VariantFor maps a version and tier to a variant. V1 has a single variant.
func VariantFor(v Version, tier model.Tier) (Variant, error) {
	switch v {
	case V1:
		return VariantV1, nil
	case V2:
		if tier == model.TierPaid {
			return VariantV2Paid, nil
		}
		return VariantV2Unpaid, nil
	}
	return "", fmt.Errorf("%w: unknown prompt version %q", domain.ErrConfiguration, v)
}
