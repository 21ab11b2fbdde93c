package disk

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/nemanja-m/mrfs/internal/storage/core"
)

const (
	fieldID        protowire.Number = 1
	fieldSize      protowire.Number = 2
	fieldChecksum  protowire.Number = 3
	fieldCreatedAt protowire.Number = 4
)

// encodeBlock lays out a block file as a length-prefixed protowire header
// followed by the payload.
func encodeBlock(meta core.BlockMeta, data []byte) []byte {
	var header []byte
	header = protowire.AppendTag(header, fieldID, protowire.BytesType)
	header = protowire.AppendString(header, string(meta.ID))
	header = protowire.AppendTag(header, fieldSize, protowire.VarintType)
	header = protowire.AppendVarint(header, uint64(meta.Size))
	header = protowire.AppendTag(header, fieldChecksum, protowire.Fixed32Type)
	header = protowire.AppendFixed32(header, meta.Checksum)
	header = protowire.AppendTag(header, fieldCreatedAt, protowire.VarintType)
	header = protowire.AppendVarint(header, uint64(meta.CreatedAt.UnixNano()))

	buf := make([]byte, 0, protowire.SizeBytes(len(header))+len(data))
	buf = protowire.AppendBytes(buf, header)
	return append(buf, data...)
}

// decodeBlock splits a block file into its header and payload.
func decodeBlock(b []byte) (core.BlockMeta, []byte, error) {
	var meta core.BlockMeta

	header, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return meta, nil, fmt.Errorf("block header: %w", protowire.ParseError(n))
	}
	payload := b[n:]

	for len(header) > 0 {
		num, typ, n := protowire.ConsumeTag(header)
		if n < 0 {
			return meta, nil, fmt.Errorf("block header tag: %w", protowire.ParseError(n))
		}
		header = header[n:]

		switch {
		case num == fieldID && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(header)
			meta.ID = core.BlockID(v)
		case num == fieldSize && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(header)
			meta.Size = int64(v)
		case num == fieldChecksum && typ == protowire.Fixed32Type:
			meta.Checksum, n = protowire.ConsumeFixed32(header)
		case num == fieldCreatedAt && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(header)
			meta.CreatedAt = time.Unix(0, int64(v)).UTC()
		default:
			n = protowire.ConsumeFieldValue(num, typ, header)
		}
		if n < 0 {
			return meta, nil, fmt.Errorf("block header field %d: %w", num, protowire.ParseError(n))
		}
		header = header[n:]
	}

	if meta.ID == "" {
		return meta, nil, errors.New("block header has no id")
	}
	return meta, payload, nil
}
