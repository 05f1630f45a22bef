// Package domain models descriptor-coded observation messages and the
// records decoded from them.
//
// # Data Source
//
// Observations arrive as WMO table-driven messages (BUFR edition 4, plus a few
// national ASCII formats). An upstream unpacker, outside this service, expands
// each message against the WMO tables and publishes the result as a flat token
// stream on the Kafka source topic:
//
//	{"id": "IOSC01 RJTD 170700", "tokens": [
//	  {"op": "message_start", "metadata": {"GTSHeader": "IOSC01 RJTD 170700"}},
//	  {"op": "subset_start"},
//	  {"op": "value", "code": 1011, "value": "7KET"},
//	  {"op": "enter", "code": 306004},
//	  {"op": "value", "code": 7062, "value": 4, "metadata": {"Units": "m"}},
//	  {"op": "leave", "code": 306004},
//	  {"op": "subset_end"},
//	  {"op": "message_end"}
//	]}
//
// # Descriptor Codes
//
// Codes use the WMO FXY numbering: F (1 digit), X (2 digits), Y (3 digits),
// written as a six-digit integer. F=0 are element descriptors (values),
// F=1 replications and F=3 sequences (structure). Leading zeros are dropped in
// JSON, so 022043 travels as 22043.
//
// # Values
//
// A raw value is one of:
//
//	null           missing (all bits set in the BUFR data section)
//	12.5           numeric, already scaled by the unpacker
//	"7KET"         CCITT IA5 text, trimmed
//	{"code": 3}    code-table entry, kept distinct from plain numbers
//
// # Records
//
// Each subset decodes into one [ObservationRecord]: record-level metadata
// (station, platform, instrument), top-level coordinates (time, position) and
// variables, and [Subrecord] groups for repeated structures such as profile
// levels (PROFILE), wave sensors (SENSORS) or spectral bands (SPEC_WAVE).
// Values may carry annotations (Units, instrument type, averaging method) in
// their Metadata map.
//
// Records contain no timestamps of their own; the time a message was decoded
// is carried on [DecodedMessage] so re-decoding is byte-for-byte reproducible.
package domain
