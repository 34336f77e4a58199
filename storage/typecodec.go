package storage

import (
	"database/sql"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/facet-io/facet/errors"
	"github.com/facet-io/facet/model"
)

// ValueRow is the generic property-value row shape: a type discriminator,
// an explicit null flag, and at most one populated value column. The
// is_null flag disambiguates a declared-null value from a zero/empty
// native value.
type ValueRow struct {
	Type     string
	IsNull   bool
	Text     sql.NullString
	Integer  sql.NullInt64
	Real     sql.NullFloat64
	Boolean  sql.NullBool
	DateTime sql.NullString
	Blob     []byte
}

// EncodeValue marshals one concrete value against its definition into a
// generic value row. A nil value produces a row with is_null set and no
// value column populated.
func EncodeValue(def *model.PropertyDef, v interface{}) (ValueRow, error) {
	row := ValueRow{Type: def.Type.Tag()}
	if v == nil {
		row.IsNull = true
		return row, nil
	}
	if err := def.Type.ValidateValue(v); err != nil {
		return ValueRow{}, err
	}
	switch def.Type {
	case model.TypeInteger:
		row.Integer = sql.NullInt64{Int64: v.(int64), Valid: true}
	case model.TypeFloat:
		row.Real = sql.NullFloat64{Float64: v.(float64), Valid: true}
	case model.TypeBoolean:
		row.Boolean = sql.NullBool{Bool: v.(bool), Valid: true}
	case model.TypeString, model.TypeText, model.TypeURI, model.TypeCLOB:
		row.Text = sql.NullString{String: v.(string), Valid: true}
	case model.TypeBigInteger:
		row.Text = sql.NullString{String: v.(*big.Int).String(), Valid: true}
	case model.TypeBigDecimal:
		row.Text = sql.NullString{String: v.(decimal.Decimal).String(), Valid: true}
	case model.TypeDateTime:
		row.DateTime = sql.NullString{String: v.(time.Time).Format(time.RFC3339Nano), Valid: true}
	case model.TypeUUID:
		row.Text = sql.NullString{String: v.(uuid.UUID).String(), Valid: true}
	case model.TypeBLOB:
		row.Blob = v.([]byte)
	default:
		return ValueRow{}, errors.NewValidationError("invalid property type %d", int(def.Type))
	}
	return row, nil
}

// DecodeValue unmarshals a generic value row against its definition. A row
// whose discriminator disagrees with the declared type is a data
// corruption failure, surfaced verbatim and never coerced.
func DecodeValue(def *model.PropertyDef, row ValueRow) (interface{}, error) {
	if row.Type != def.Type.Tag() {
		return nil, errors.NewCorruptionError(
			"property %q: stored value type %q disagrees with declared type %q",
			def.Name, row.Type, def.Type.Tag())
	}
	if row.IsNull {
		return nil, nil
	}
	switch def.Type {
	case model.TypeInteger:
		if !row.Integer.Valid {
			return nil, missingColumn(def, "integer")
		}
		return row.Integer.Int64, nil
	case model.TypeFloat:
		if !row.Real.Valid {
			return nil, missingColumn(def, "real")
		}
		return row.Real.Float64, nil
	case model.TypeBoolean:
		if !row.Boolean.Valid {
			return nil, missingColumn(def, "boolean")
		}
		return row.Boolean.Bool, nil
	case model.TypeString, model.TypeText, model.TypeURI, model.TypeCLOB:
		if !row.Text.Valid {
			return nil, missingColumn(def, "text")
		}
		return row.Text.String, nil
	case model.TypeBigInteger:
		if !row.Text.Valid {
			return nil, missingColumn(def, "text")
		}
		i, ok := new(big.Int).SetString(row.Text.String, 10)
		if !ok {
			return nil, errors.NewCorruptionError("property %q: %q is not a big integer", def.Name, row.Text.String)
		}
		return i, nil
	case model.TypeBigDecimal:
		if !row.Text.Valid {
			return nil, missingColumn(def, "text")
		}
		d, err := decimal.NewFromString(row.Text.String)
		if err != nil {
			return nil, errors.NewCorruptionError("property %q: %q is not a decimal", def.Name, row.Text.String)
		}
		return d, nil
	case model.TypeDateTime:
		if !row.DateTime.Valid {
			return nil, missingColumn(def, "datetime")
		}
		ts, err := time.Parse(time.RFC3339Nano, row.DateTime.String)
		if err != nil {
			return nil, errors.NewCorruptionError("property %q: %q is not a timestamp", def.Name, row.DateTime.String)
		}
		return ts, nil
	case model.TypeUUID:
		if !row.Text.Valid {
			return nil, missingColumn(def, "text")
		}
		id, err := uuid.Parse(row.Text.String)
		if err != nil {
			return nil, errors.NewCorruptionError("property %q: %q is not a UUID", def.Name, row.Text.String)
		}
		return id, nil
	case model.TypeBLOB:
		if row.Blob == nil {
			return nil, missingColumn(def, "blob")
		}
		return row.Blob, nil
	default:
		return nil, errors.NewValidationError("invalid property type %d", int(def.Type))
	}
}

func missingColumn(def *model.PropertyDef, column string) error {
	return errors.NewCorruptionError(
		"property %q: discriminator %q set but %s column is null",
		def.Name, def.Type.Tag(), column)
}

// FormatScalar renders a scalar value as the canonical text used for
// persisted default values. ParseScalar is its inverse.
func FormatScalar(t model.PropertyType, v interface{}) (string, error) {
	row, err := EncodeValue(&model.PropertyDef{Name: "default", Type: t, Nullable: true}, v)
	if err != nil {
		return "", err
	}
	switch {
	case row.Text.Valid:
		return row.Text.String, nil
	case row.Integer.Valid:
		return strconv.FormatInt(row.Integer.Int64, 10), nil
	case row.Real.Valid:
		return strconv.FormatFloat(row.Real.Float64, 'g', -1, 64), nil
	case row.Boolean.Valid:
		if row.Boolean.Bool {
			return "true", nil
		}
		return "false", nil
	case row.DateTime.Valid:
		return row.DateTime.String, nil
	case row.Blob != nil:
		return string(row.Blob), nil
	default:
		return "", errors.NewValidationError("no textual form for null value")
	}
}

// ParseScalar parses the canonical text form back into a value of type t.
func ParseScalar(t model.PropertyType, s string) (interface{}, error) {
	row := ValueRow{Type: t.Tag()}
	switch t {
	case model.TypeInteger:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, errors.NewValidationError("%q is not an integer", s)
		}
		row.Integer = sql.NullInt64{Int64: n, Valid: true}
	case model.TypeFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, errors.NewValidationError("%q is not a float", s)
		}
		row.Real = sql.NullFloat64{Float64: f, Valid: true}
	case model.TypeBoolean:
		row.Boolean = sql.NullBool{Bool: s == "true", Valid: true}
	case model.TypeDateTime:
		row.DateTime = sql.NullString{String: s, Valid: true}
	case model.TypeBLOB:
		row.Blob = []byte(s)
	default:
		row.Text = sql.NullString{String: s, Valid: true}
	}
	return DecodeValue(&model.PropertyDef{Name: "default", Type: t, Nullable: true}, row)
}
