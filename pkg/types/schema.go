package types

// PathSeparator joins the segments of a dotted series path
// (e.g. "root.vehicle.d0.s0").
const PathSeparator = "."

// DataType is the value type stored in a timeseries.
type DataType string

const (
	DataTypeBoolean DataType = "BOOLEAN"
	DataTypeInt32   DataType = "INT32"
	DataTypeInt64   DataType = "INT64"
	DataTypeFloat   DataType = "FLOAT"
	DataTypeDouble  DataType = "DOUBLE"
	DataTypeText    DataType = "TEXT"
)

// Encoding is the on-disk encoding applied to a timeseries.
type Encoding string

const (
	EncodingPlain   Encoding = "PLAIN"
	EncodingRLE     Encoding = "RLE"
	EncodingTS2Diff Encoding = "TS_2DIFF"
	EncodingGorilla Encoding = "GORILLA"
)

// Compressor is the block compression applied to a timeseries.
type Compressor string

const (
	CompressorUncompressed Compressor = "UNCOMPRESSED"
	CompressorSnappy       Compressor = "SNAPPY"
)

// MeasurementSchema describes a single timeseries: how its values are typed,
// encoded, and compressed, plus a free-form property bag. The metadata tree
// stores schemas opaquely and deduplicates them by measurement name only.
type MeasurementSchema struct {
	// DataType is the value type of the series
	DataType DataType `json:"data_type"`

	// Encoding is the column encoding of the series
	Encoding Encoding `json:"encoding"`

	// Compressor is the block compressor of the series
	Compressor Compressor `json:"compressor"`

	// Props holds open string-keyed schema properties
	Props map[string]string `json:"props,omitempty"`
}

// Clone returns a deep copy of the schema.
func (s *MeasurementSchema) Clone() *MeasurementSchema {
	cp := &MeasurementSchema{
		DataType:   s.DataType,
		Encoding:   s.Encoding,
		Compressor: s.Compressor,
	}
	if len(s.Props) > 0 {
		cp.Props = make(map[string]string, len(s.Props))
		for k, v := range s.Props {
			cp.Props[k] = v
		}
	}
	return cp
}
