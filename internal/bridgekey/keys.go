package bridgekey

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

const (
	depositKeyPrefixV1  = "bridge.deposit"
	withdrawKeyPrefixV1 = "bridge.withdraw"
)

// DepositKeyV1 computes the canonical content digest of a deposit record.
//
//	depositKey = keccak256("bridge.deposit" || destChainKeyBE8 ||
//	                       len(destAsset)BE4 || destAsset ||
//	                       len(destAccount)BE4 || destAccount ||
//	                       payer || asset || amountBE32 || seqBE8)
//
// Variable-length fields are length-framed so no two distinct records can
// share an encoding.
func DepositKeyV1(destChainKey uint64, destAsset, destAccount []byte, payer, asset common.Address, amount *big.Int, seq uint64) [32]byte {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(depositKeyPrefixV1))
	writeUint64(h, destChainKey)
	writeBytes(h, destAsset)
	writeBytes(h, destAccount)
	_, _ = h.Write(payer[:])
	_, _ = h.Write(asset[:])
	writeAmount(h, amount)
	writeUint64(h, seq)

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// WithdrawKeyV1 computes the withdraw key: the content digest identifying a
// unique (source chain, asset, recipient, amount, nonce) tuple.
func WithdrawKeyV1(srcChainKey uint64, asset, to common.Address, amount *big.Int, nonce uint64) [32]byte {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(withdrawKeyPrefixV1))
	writeUint64(h, srcChainKey)
	_, _ = h.Write(asset[:])
	_, _ = h.Write(to[:])
	writeAmount(h, amount)
	writeUint64(h, nonce)

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

type hashWriter interface {
	Write(p []byte) (int, error)
}

func writeUint64(h hashWriter, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, _ = h.Write(buf[:])
}

func writeBytes(h hashWriter, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	_, _ = h.Write(n[:])
	_, _ = h.Write(b)
}

// writeAmount encodes the amount as a fixed 32-byte big-endian integer, the
// same layout as an EVM uint256. Nil is encoded as zero.
func writeAmount(h hashWriter, amount *big.Int) {
	var buf [32]byte
	if amount != nil {
		amount.FillBytes(buf[:])
	}
	_, _ = h.Write(buf[:])
}
