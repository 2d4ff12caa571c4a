package ledger

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"OrgRegistry/internal/chain"
	"OrgRegistry/internal/types"
)

// snapshotVersion is the current snapshot format version.
const snapshotVersion = 1

var (
	// ErrSnapshotChecksum is returned when a snapshot's checksum does not match its content.
	ErrSnapshotChecksum = errors.New("snapshot checksum mismatch")

	// ErrSnapshotVersion is returned for an unsupported snapshot version.
	ErrSnapshotVersion = errors.New("unsupported snapshot version")

	// ErrSnapshotLedger is returned when a snapshot belongs to another ledger identity.
	ErrSnapshotLedger = errors.New("snapshot of another ledger")

	// ErrSnapshotMalformed is returned when the snapshot cannot be parsed.
	ErrSnapshotMalformed = errors.New("malformed snapshot")
)

// commitmentEntry is one pending commitment.
type commitmentEntry struct {
	fingerprint types.Hash
	digest      types.Hash
}

// Export serialises every pending commitment into a zstd-compressed
// FlatBuffers snapshot.
func (l *Ledger) Export(ctx *chain.Context) ([]byte, error) {
	entries, err := l.collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect commitments:\n%w", err)
	}

	data := buildSnapshot(l.addr, ctx.Now().Unix(), entries)

	return compressSnapshot(data)
}

// Import loads the commitments of a snapshot produced by Export, overwriting
// pending entries with the same fingerprint. Returns the number imported.
func (l *Ledger) Import(ctx *chain.Context, compressed []byte) (int, error) {
	data, err := decompressSnapshot(compressed)
	if err != nil {
		return 0, fmt.Errorf("%w: decompress:\n%w", ErrSnapshotMalformed, err)
	}

	entries, err := parseSnapshot(l.addr, data)
	if err != nil {
		return 0, err
	}

	for _, e := range entries {
		if err := ctx.Set(l.key(e.fingerprint), e.digest[:]); err != nil {
			return 0, err
		}
	}

	return len(entries), nil
}

// collect lists pending commitments in key order.
func (l *Ledger) collect(ctx *chain.Context) ([]commitmentEntry, error) {
	prefix := l.prefix()

	var entries []commitmentEntry

	err := ctx.IteratePrefix(prefix, func(key, value []byte) error {
		if len(key) != len(prefix)+32 || len(value) != 32 {
			return nil
		}

		var e commitmentEntry
		copy(e.fingerprint[:], key[len(prefix):])
		copy(e.digest[:], value)

		if !e.digest.IsZero() {
			entries = append(entries, e)
		}

		return nil
	})

	return entries, err
}

// buildSnapshot creates the FlatBuffers snapshot with its checksum.
func buildSnapshot(ledger types.Address, createdAt int64, entries []commitmentEntry) []byte {
	checksum := computeChecksum(snapshotVersion, ledger, entries)

	builder := flatbuffers.NewBuilder(256 + 80*len(entries))

	offsets := make([]flatbuffers.UOffsetT, len(entries))
	for i, e := range entries {
		fpOffset := builder.CreateByteVector(e.fingerprint[:])
		digestOffset := builder.CreateByteVector(e.digest[:])

		types.SnapshotCommitmentStart(builder)
		types.SnapshotCommitmentAddFingerprint(builder, fpOffset)
		types.SnapshotCommitmentAddDigest(builder, digestOffset)
		offsets[i] = types.SnapshotCommitmentEnd(builder)
	}

	types.LedgerSnapshotStartCommitmentsVector(builder, len(offsets))
	for i := len(offsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(offsets[i])
	}
	commitmentsVector := builder.EndVector(len(offsets))

	ledgerOffset := builder.CreateByteVector(ledger[:])
	checksumOffset := builder.CreateByteVector(checksum[:])

	types.LedgerSnapshotStart(builder)
	types.LedgerSnapshotAddVersion(builder, snapshotVersion)
	types.LedgerSnapshotAddLedger(builder, ledgerOffset)
	types.LedgerSnapshotAddCommitments(builder, commitmentsVector)
	types.LedgerSnapshotAddChecksum(builder, checksumOffset)
	types.LedgerSnapshotAddCreatedAt(builder, createdAt)
	offset := types.LedgerSnapshotEnd(builder)
	builder.Finish(offset)

	return builder.FinishedBytes()
}

// parseSnapshot validates a snapshot against ledger and returns its entries.
func parseSnapshot(ledger types.Address, data []byte) (entries []commitmentEntry, err error) {
	if len(data) < 8 {
		return nil, ErrSnapshotMalformed
	}

	// Out-of-range offsets in a corrupt buffer panic inside the accessors.
	defer func() {
		if r := recover(); r != nil {
			entries, err = nil, fmt.Errorf("%w: %v", ErrSnapshotMalformed, r)
		}
	}()

	snap := types.GetRootAsLedgerSnapshot(data, 0)

	if snap.Version() != snapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrSnapshotVersion, snap.Version())
	}

	if !bytes.Equal(snap.LedgerBytes(), ledger[:]) {
		return nil, ErrSnapshotLedger
	}

	entries = make([]commitmentEntry, 0, snap.CommitmentsLength())

	var c types.SnapshotCommitment
	for i := 0; i < snap.CommitmentsLength(); i++ {
		if !snap.Commitments(&c, i) {
			return nil, ErrSnapshotMalformed
		}

		fp, digest := c.FingerprintBytes(), c.DigestBytes()
		if len(fp) != 32 || len(digest) != 32 {
			return nil, fmt.Errorf("%w: commitment %d", ErrSnapshotMalformed, i)
		}

		var e commitmentEntry
		copy(e.fingerprint[:], fp)
		copy(e.digest[:], digest)
		entries = append(entries, e)
	}

	checksum := computeChecksum(snap.Version(), ledger, entries)
	if !bytes.Equal(snap.ChecksumBytes(), checksum[:]) {
		return nil, ErrSnapshotChecksum
	}

	return entries, nil
}

// computeChecksum hashes the canonical snapshot content.
// Format: version (4) || ledger (32) || count (4) || per entry: fingerprint (32) || digest (32).
func computeChecksum(version uint32, ledger types.Address, entries []commitmentEntry) [32]byte {
	hasher := blake3.New()

	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], version)
	hasher.Write(buf[:])
	hasher.Write(ledger[:])

	binary.BigEndian.PutUint32(buf[:], uint32(len(entries)))
	hasher.Write(buf[:])

	for _, e := range entries {
		hasher.Write(e.fingerprint[:])
		hasher.Write(e.digest[:])
	}

	var checksum [32]byte
	hasher.Sum(checksum[:0])

	return checksum
}

// compressSnapshot compresses snapshot data using zstd.
func compressSnapshot(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// decompressSnapshot decompresses zstd-compressed snapshot data.
func decompressSnapshot(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	return decoder.DecodeAll(data, nil)
}
