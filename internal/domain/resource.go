package domain

import (
	"fmt"
	"strings"
)

type ResourceType string

const (
	Gibier    ResourceType = "Gibier"
	Chaise    ResourceType = "Chaise"
	Vaisselle ResourceType = "Vaisselle"
	Tunique   ResourceType = "Tunique"
	Vin       ResourceType = "Vin"
	Sel       ResourceType = "Sel"
	Epices    ResourceType = "Epices"
	Soie      ResourceType = "Soie"
)

// ResourceTypes is the closed set of banquet goods, in display order.
var ResourceTypes = []ResourceType{Gibier, Chaise, Vaisselle, Tunique, Vin, Sel, Epices, Soie}

func (t ResourceType) Valid() bool {
	for _, rt := range ResourceTypes {
		if rt == t {
			return true
		}
	}
	return false
}

func (t ResourceType) String() string {
	return string(t)
}

// ParseResourceType matches case-insensitively.
func ParseResourceType(s string) (ResourceType, error) {
	s = strings.TrimSpace(s)
	for _, rt := range ResourceTypes {
		if strings.EqualFold(string(rt), s) {
			return rt, nil
		}
	}
	return "", fmt.Errorf("%w: unknown resource type %q", ErrValidation, s)
}
