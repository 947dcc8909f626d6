package pagehandler

// Document is the opaque byte-serializer boundary spec.md §1 leaves
// undefined: the page handler only ever sees a document's already-
// encoded bytes, never its shape. The collection/query layer above
// supplies an implementation; this package neither knows nor cares what
// is inside.
type Document interface {
	ToBytes() ([]byte, error)
}

// Decoder turns stored bytes back into a document. A DecodeError never
// mutates the ticket or the page it came from (spec.md §7).
type Decoder interface {
	FromBytes(data []byte) (Document, error)
}

// RawDocument is the identity Decoder/Document pair used when the
// caller only wants the encoded bytes back, with no higher-level
// decoding: ToBytes returns the bytes unchanged, FromBytes never fails.
type RawDocument []byte

func (d RawDocument) ToBytes() ([]byte, error) { return []byte(d), nil }

type rawDecoder struct{}

func (rawDecoder) FromBytes(data []byte) (Document, error) { return RawDocument(data), nil }

// RawDecoder is a Decoder that hands back RawDocument values verbatim.
var RawDecoder Decoder = rawDecoder{}
