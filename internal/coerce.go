package internal

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lychee-technology/gridbase"
)

// CoerceRecord shreds a logical payload into the JSON data document for the
// physical row. Keys resolve against column id, storage name or title;
// virtual and system columns are skipped, unknown keys are kept in the
// document as-is. String values pass through the sanitizer.
func CoerceRecord(table *gridbase.Table, rec gridbase.Record) (map[string]any, error) {
	data := make(map[string]any, len(rec))
	for key, val := range rec {
		if isSystemKey(key) {
			continue
		}
		col := table.ColumnByRef(key)
		if col == nil {
			zap.S().Debugw("keeping unresolved field", "table", table.ID, "field", key)
			data[key] = gridbase.SanitizeValue(val)
			continue
		}
		if col.IsVirtual() || col.IsSystem() {
			continue
		}
		coerced, err := CoerceValue(col, val)
		if err != nil {
			return nil, gridbase.NewValidationError(col.Name, err.Error())
		}
		data[col.Name] = coerced
	}
	return data, nil
}

func isSystemKey(key string) bool {
	switch key {
	case gridbase.FieldID, gridbase.FieldTableID, gridbase.FieldCreatedAt,
		gridbase.FieldUpdatedAt, gridbase.FieldCreatedBy, gridbase.FieldUpdatedBy:
		return true
	}
	return false
}

// CoerceValue normalizes a cell value to its column's storage shape.
func CoerceValue(col *gridbase.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch col.Type {
	case gridbase.ColTypeCheckbox:
		return coerceBool(v)
	case gridbase.ColTypeNumber, gridbase.ColTypeDecimal, gridbase.ColTypeCurrency,
		gridbase.ColTypePercent, gridbase.ColTypeRating, gridbase.ColTypeDuration:
		return coerceNumber(v)
	case gridbase.ColTypeDate, gridbase.ColTypeDateTime:
		return coerceTimestamp(v)
	case gridbase.ColTypeJSON:
		return coerceJSON(v)
	case gridbase.ColTypeMultiSelect:
		return coerceMulti(v)
	default:
		if s, ok := v.(string); ok {
			return gridbase.SanitizeValue(s), nil
		}
		return v, nil
	}
}

func coerceBool(v any) (any, error) {
	switch vv := v.(type) {
	case bool:
		return vv, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(vv)) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off", "":
			return false, nil
		}
		return nil, fmt.Errorf("'%s' is not a boolean", vv)
	case float64:
		return vv != 0, nil
	case int:
		return vv != 0, nil
	default:
		return nil, fmt.Errorf("%T is not a boolean", v)
	}
}

func coerceNumber(v any) (any, error) {
	switch vv := v.(type) {
	case float64:
		return vv, nil
	case float32:
		return float64(vv), nil
	case int:
		return float64(vv), nil
	case int64:
		return float64(vv), nil
	case json.Number:
		f, err := vv.Float64()
		if err != nil {
			return nil, fmt.Errorf("'%s' is not a number", vv)
		}
		return f, nil
	case string:
		s := strings.TrimSpace(vv)
		if s == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("'%s' is not a number", vv)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%T is not a number", v)
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func coerceTimestamp(v any) (any, error) {
	switch vv := v.(type) {
	case time.Time:
		return vv.UTC().Format(time.RFC3339), nil
	case string:
		s := strings.TrimSpace(vv)
		if s == "" {
			return nil, nil
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC().Format(time.RFC3339), nil
			}
		}
		return nil, fmt.Errorf("'%s' is not a timestamp", vv)
	default:
		return nil, fmt.Errorf("%T is not a timestamp", v)
	}
}

func coerceJSON(v any) (any, error) {
	if s, ok := v.(string); ok {
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			return nil, fmt.Errorf("invalid JSON value")
		}
		return parsed, nil
	}
	return v, nil
}

func coerceMulti(v any) (any, error) {
	switch vv := v.(type) {
	case []any:
		out := make([]any, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, gridbase.SanitizeValue(s))
				continue
			}
			out = append(out, item)
		}
		return out, nil
	case []string:
		out := make([]any, 0, len(vv))
		for _, s := range vv {
			out = append(out, gridbase.SanitizeValue(s))
		}
		return out, nil
	case string:
		if vv == "" {
			return []any{}, nil
		}
		// a stringified JSON array wins over comma-splitting
		var parsed []any
		if err := json.Unmarshal([]byte(vv), &parsed); err == nil {
			return coerceMulti(parsed)
		}
		parts := strings.Split(vv, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			out = append(out, gridbase.SanitizeValue(strings.TrimSpace(p)))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%T is not a multi-value", v)
	}
}

// LogicalRecord merges a physical row back into the flat logical shape:
// system columns at the top level and the data document's keys promoted
// alongside them.
func LogicalRecord(columns []string, values []any) gridbase.Record {
	rec := make(gridbase.Record, len(columns)+4)
	for i, name := range columns {
		if i >= len(values) {
			break
		}
		if name == gridbase.FieldData {
			merged := asDataMap(values[i])
			for k, v := range merged {
				rec[k] = v
			}
			continue
		}
		rec[name] = normalizeScanned(values[i])
	}
	return rec
}

func asDataMap(v any) map[string]any {
	switch vv := v.(type) {
	case map[string]any:
		return vv
	case []byte:
		var m map[string]any
		if err := json.Unmarshal(vv, &m); err == nil {
			return m
		}
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(vv), &m); err == nil {
			return m
		}
	}
	return nil
}

func normalizeScanned(v any) any {
	switch vv := v.(type) {
	case time.Time:
		return vv.UTC().Format(time.RFC3339)
	case [16]byte:
		// pgx scans uuid columns as byte arrays when no codec is registered
		return fmt.Sprintf("%x-%x-%x-%x-%x", vv[0:4], vv[4:6], vv[6:8], vv[8:10], vv[10:16])
	default:
		return v
	}
}
