// Package consensus implements the leader + validator voting loop over
// contract execution (spec §2, §4.4). It is grounded directly in the
// original implementation's run_consensus (original_source/glsim/consensus.go's
// Python counterpart, glsim/consensus.py): snapshot, clear witnesses, run
// the leader, replay witnesses per validator, majority-check, restore and
// rotate on disagreement, UNDETERMINED once rotations are exhausted. The
// teacher repo has no direct analogue (Synnergy's consensus is a real BFT
// engine, not a leader-replay simulator), so this package follows the
// original's control flow while keeping the teacher's logging/error idiom.
package consensus

import (
	"context"

	"github.com/sirupsen/logrus"

	"gensim/engine"
	"gensim/runtime"
	"gensim/statestore"
)

// ExecuteFunc runs one leader attempt — a deploy or a call — against the
// engine's current (just-restored) state, returning the decoded result,
// its calldata-encoded bytes, and the error it raised, if any.
type ExecuteFunc func() (result any, resultBytes []byte, err error)

// Result is the outcome of one consensus round (spec §4.4).
type Result struct {
	Status      statestore.TxStatus
	Result      any
	Error       string
	ResultBytes []byte
	Votes       []string
	Rotation    int
	Triggered   []statestore.TriggeredOp
}

// Run drives the rotation loop described in spec §2/§4.4. numValidators <= 1
// auto-agrees without consulting witnesses; a leader attempt with no
// witnesses is deterministic and also auto-agrees; otherwise each validator
// replays every captured witness and votes agree only if all of them concur.
// If ctx is canceled or times out before a rotation reaches majority, the
// snapshot taken at the start of that rotation is restored and the round
// ends FAILED with reason "timeout" (spec "Cancellation / timeouts").
func Run(ctx context.Context, eng *engine.Engine, execute ExecuteFunc, numValidators uint64, maxRotations uint64, logger *logrus.Logger) Result {
	if maxRotations < 1 {
		maxRotations = 1
	}
	majority := numValidators/2 + 1

	var lastResult any
	var lastBytes []byte
	var lastErr string
	var lastVotes []string
	var lastTriggered []statestore.TriggeredOp

	for rotation := uint64(0); rotation < maxRotations; rotation++ {
		snapID := eng.Snapshot()
		eng.ClearWitnesses()

		if err := ctx.Err(); err != nil {
			eng.Restore(snapID)
			return Result{
				Status:   statestore.StatusFailed,
				Error:    "timeout",
				Rotation: int(rotation),
			}
		}

		result, resultBytes, err := execute()
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}

		witnesses := eng.Witnesses()
		triggered := eng.Triggered()

		votes := computeVotes(witnesses, numValidators)
		agree := countAgree(votes)

		lastResult, lastBytes, lastErr, lastVotes, lastTriggered = result, resultBytes, errMsg, votes, triggered

		if agree >= majority {
			return Result{
				Status:      statestore.StatusFinalized,
				Result:      result,
				Error:       errMsg,
				ResultBytes: resultBytes,
				Votes:       votes,
				Rotation:    int(rotation),
				Triggered:   triggered,
			}
		}

		logger.WithFields(logrus.Fields{"rotation": rotation, "agree": agree, "majority": majority}).
			Debug("consensus: majority disagreed, restoring and rotating leader")
		eng.Restore(snapID)
	}

	return Result{
		Status:      statestore.StatusUndetermined,
		Result:      lastResult,
		Error:       firstNonEmpty(lastErr, "no consensus after max rotations"),
		ResultBytes: lastBytes,
		Votes:       lastVotes,
		Rotation:    int(maxRotations) - 1,
		Triggered:   lastTriggered,
	}
}

// computeVotes applies the three-way rule from spec §4.4: trivial
// single-validator agreement, deterministic (witness-free) agreement, or a
// full validator replay of every witness.
func computeVotes(witnesses []runtime.Witness, numValidators uint64) []string {
	if numValidators <= 1 {
		return []string{"agree"}
	}
	if len(witnesses) == 0 {
		votes := make([]string, numValidators)
		for i := range votes {
			votes[i] = "agree"
		}
		return votes
	}
	votes := make([]string, numValidators)
	for i := range votes {
		votes[i] = replayVote(witnesses)
	}
	return votes
}

func replayVote(witnesses []runtime.Witness) string {
	for _, w := range witnesses {
		ok, err := w.Validate(w.LeaderResult)
		if err != nil || !ok {
			return "disagree"
		}
	}
	return "agree"
}

func countAgree(votes []string) uint64 {
	var n uint64
	for _, v := range votes {
		if v == "agree" {
			n++
		}
	}
	return n
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
