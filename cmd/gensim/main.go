// Command gensim runs the local contract-network simulator: the JSON-RPC
// server, the consensus-driven execution engine, and the LiveIO side-effect
// handlers, wired together per spec §6.3. Grounded in the teacher's
// cmd/synnergy/main.go cobra-root pattern.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("gensim: fatal")
		os.Exit(1)
	}
}
