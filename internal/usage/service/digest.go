package service

import (
	"encoding/binary"
	"encoding/hex"

	usagedomain "github.com/smallbiznis/agentmarket/internal/usage/domain"
	"golang.org/x/crypto/sha3"
)

// Digest is the keccak-256 of the record's reported fields in a fixed order,
// so a provider can prove which measurement it submitted. Integers are
// 8-byte big-endian and strings carry a 4-byte length prefix.
func Digest(record usagedomain.UsageRecord) string {
	var buf []byte
	buf = binary.BigEndian.AppendUint64(buf, record.RentalID)
	buf = binary.BigEndian.AppendUint64(buf, record.OfferingID)
	buf = appendString(buf, record.Renter)
	buf = appendString(buf, record.ComputeProvider)
	buf = appendString(buf, record.JobID)
	buf = binary.BigEndian.AppendUint64(buf, uint64(record.ComputeTimeMs))
	buf = binary.BigEndian.AppendUint64(buf, uint64(record.ResourcesUsed))
	buf = appendString(buf, record.InputHash)
	buf = appendString(buf, record.OutputHash)

	h := sha3.NewLegacyKeccak256()
	h.Write(buf)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}
