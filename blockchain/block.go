package blockchain

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/OdyseeTeam/powchain/hashing"
)

// DefaultMineRate is the target time between blocks.
const DefaultMineRate = 4 * time.Second

// Params holds the consensus constants every node must agree on.
type Params struct {
	Genesis  Block
	MineRate time.Duration

	// Now is the clock sampled while mining. Defaults to time.Now.
	Now func() time.Time
}

func DefaultParams() Params {
	return Params{
		Genesis:  Genesis(),
		MineRate: DefaultMineRate,
	}
}

func (p Params) now() int64 {
	if p.Now == nil {
		return time.Now().UnixNano()
	}
	return p.Now().UnixNano()
}

// AdjustDifficulty raises the difficulty for blocks mined faster than MineRate and lowers it,
// never below 1, for slower ones.
func (p Params) AdjustDifficulty(last Block, newTimestamp int64) int {
	if newTimestamp-last.Timestamp < p.MineRate.Nanoseconds() {
		return last.Difficulty + 1
	}
	if last.Difficulty-1 > 0 {
		return last.Difficulty - 1
	}
	return 1
}

// Mine searches for a nonce that gives the new block enough leading zero bits. Timestamp and
// difficulty are resampled on every attempt. ctx is checked once per nonce, so a cancelled
// search stops after at most one more hash.
func (p Params) Mine(ctx context.Context, last Block, data Payload) (Block, error) {
	if data == nil {
		data = Payload{}
	}

	for nonce := int64(0); ; nonce++ {
		if err := ctx.Err(); err != nil {
			return Block{}, err
		}

		timestamp := p.now()
		candidate := Block{
			Timestamp:  timestamp,
			LastHash:   last.Hash,
			Data:       data,
			Difficulty: p.AdjustDifficulty(last, timestamp),
			Nonce:      nonce,
		}

		hash, err := candidate.ComputeHash()
		if err != nil {
			return Block{}, err
		}
		if hashing.MeetsDifficulty(hash, candidate.Difficulty) {
			candidate.Hash = hash
			return candidate, nil
		}
	}
}

// IsValidBlockPair checks that block is a legitimate successor of last. The first failing rule
// is returned as a *RuleError.
func IsValidBlockPair(last, block Block) error {
	if block.LastHash != last.Hash {
		return &RuleError{Field: "last_hash", Got: block.LastHash, Want: last.Hash, Err: ErrChainLinkage}
	}

	if block.Difficulty < 0 {
		return &RuleError{Field: "difficulty", Got: strconv.Itoa(block.Difficulty), Want: "at least 0", Err: ErrProofOfWork}
	}

	if !hashing.MeetsDifficulty(block.Hash, block.Difficulty) {
		return &RuleError{
			Field: "hash",
			Got:   fmt.Sprintf("%d leading zero bits", hashing.LeadingZeroBits(block.Hash)),
			Want:  fmt.Sprintf("at least %d", block.Difficulty),
			Err:   ErrProofOfWork,
		}
	}

	if abs(last.Difficulty-block.Difficulty) > 1 {
		return &RuleError{
			Field: "difficulty",
			Got:   strconv.Itoa(block.Difficulty),
			Want:  fmt.Sprintf("%d±1", last.Difficulty),
			Err:   ErrDifficultyJump,
		}
	}

	hash, err := block.ComputeHash()
	if err != nil {
		return &RuleError{Field: "data", Got: err.Error(), Want: "serializable payload", Err: ErrHashMismatch}
	}
	if hash != block.Hash {
		return &RuleError{Field: "hash", Got: block.Hash, Want: hash, Err: ErrHashMismatch}
	}

	return nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
