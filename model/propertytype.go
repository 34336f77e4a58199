package model

import (
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/facet-io/facet/errors"
)

// PropertyType is the closed set of value types a property may declare.
// Adding a variant requires extending every switch in this file and in the
// storage value codec; the Valid/Tag/ParsePropertyType trio keeps the
// storage tag mapping an exact round-trip.
type PropertyType int

const (
	// TypeInteger is a 64-bit signed integer (Go int64).
	TypeInteger PropertyType = iota
	// TypeFloat is a 64-bit float (Go float64).
	TypeFloat
	// TypeBoolean is a bool.
	TypeBoolean
	// TypeString is a bounded string.
	TypeString
	// TypeText is an unbounded string.
	TypeText
	// TypeBigInteger is an arbitrary-precision integer (*big.Int).
	TypeBigInteger
	// TypeBigDecimal is an arbitrary-precision decimal (decimal.Decimal).
	TypeBigDecimal
	// TypeDateTime is a zoned timestamp (time.Time).
	TypeDateTime
	// TypeURI is a URI string.
	TypeURI
	// TypeUUID is a 128-bit UUID (uuid.UUID).
	TypeUUID
	// TypeCLOB is a character large object (string).
	TypeCLOB
	// TypeBLOB is a binary large object ([]byte).
	TypeBLOB
)

var propertyTypeTags = map[PropertyType]string{
	TypeInteger:    "integer",
	TypeFloat:      "float",
	TypeBoolean:    "boolean",
	TypeString:     "string",
	TypeText:       "text",
	TypeBigInteger: "biginteger",
	TypeBigDecimal: "bigdecimal",
	TypeDateTime:   "datetime",
	TypeURI:        "uri",
	TypeUUID:       "uuid",
	TypeCLOB:       "clob",
	TypeBLOB:       "blob",
}

var propertyTypesByTag = func() map[string]PropertyType {
	m := make(map[string]PropertyType, len(propertyTypeTags))
	for t, tag := range propertyTypeTags {
		m[tag] = t
	}
	return m
}()

// Valid reports whether t is one of the declared variants.
func (t PropertyType) Valid() bool {
	_, ok := propertyTypeTags[t]
	return ok
}

// Tag returns the stable storage tag for t. Tag and ParsePropertyType are
// exact inverses.
func (t PropertyType) Tag() string {
	return propertyTypeTags[t]
}

// String returns the storage tag.
func (t PropertyType) String() string {
	if tag, ok := propertyTypeTags[t]; ok {
		return tag
	}
	return "invalid"
}

// ParsePropertyType resolves a storage tag back to its PropertyType.
// An unrecognized tag is a validation failure.
func ParsePropertyType(tag string) (PropertyType, error) {
	t, ok := propertyTypesByTag[tag]
	if !ok {
		return 0, errors.NewValidationError("unknown property type tag %q", tag)
	}
	return t, nil
}

// ValidateValue checks that v carries the Go representation declared by t.
// nil is accepted for every type; nullability is enforced by PropertyDef.
func (t PropertyType) ValidateValue(v interface{}) error {
	if v == nil {
		return nil
	}
	ok := false
	switch t {
	case TypeInteger:
		_, ok = v.(int64)
	case TypeFloat:
		_, ok = v.(float64)
	case TypeBoolean:
		_, ok = v.(bool)
	case TypeString, TypeText, TypeURI, TypeCLOB:
		_, ok = v.(string)
	case TypeBigInteger:
		_, ok = v.(*big.Int)
	case TypeBigDecimal:
		_, ok = v.(decimal.Decimal)
	case TypeDateTime:
		_, ok = v.(time.Time)
	case TypeUUID:
		_, ok = v.(uuid.UUID)
	case TypeBLOB:
		_, ok = v.([]byte)
	default:
		return errors.NewValidationError("invalid property type %d", int(t))
	}
	if !ok {
		return errors.NewValidationError("value %T is not assignable to property type %q", v, t.Tag())
	}
	return nil
}
