package main

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"gensim/codec"
	"gensim/engine"
	"gensim/liveio"
	"gensim/rpc"
	"gensim/runtime/native"
	"gensim/runtime/wasmhost"
	"gensim/server"
	"gensim/statestore"
)

func newServeCmd() *cobra.Command {
	var (
		host         string
		port         int
		validators   uint64
		maxRotations uint64
		llmProvider  string
		noBrowser    bool
		mockTable    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "start the JSON-RPC simulator server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.New()
			if verbose {
				logger.SetLevel(logrus.DebugLevel)
			}

			table, err := liveio.LoadMockTable(mockTable)
			if err != nil {
				return err
			}

			// --no-browser toggles whether the web handler would render
			// pages in a headless browser; the pack carries no browser
			// automation dependency, so the live web handler always uses
			// a plain HTTP client and this flag is accepted for CLI
			// compatibility only (see DESIGN.md).
			if noBrowser {
				logger.Debug("gensim: headless-browser web fetching not available in this build, using HTTP client")
			}

			webHandler := liveio.NewWebHandler(table.Web, http.DefaultClient, 10, logger)
			llmHandler := liveio.NewLLMHandler(table.LLM, llmProvider, http.DefaultClient, logger)

			store := statestore.New()
			eng := engine.New(engine.Config{
				Store:        store,
				ChainID:      codec.ChainID.Uint64(),
				NativeLoader: native.NewLoader(),
				WasmLoader:   wasmhost.NewLoader(),
				WebHandler:   webHandler,
				LLMHandler:   llmHandler,
				Logger:       logger,
			})

			dispatcher := &rpc.Dispatcher{
				Eng:                 eng,
				Store:               store,
				ChainID:             codec.ChainID.Uint64(),
				ConsensusContract:   codec.ConsensusContractAddress,
				NewTransactionTopic: [32]byte(codec.NewTransactionTopic),
				DefaultValidators:   validators,
				MaxRotations:        maxRotations,
				Logger:              logger,
			}

			srv := server.New(server.Config{Dispatcher: dispatcher, Logger: logger})
			return srv.ListenAndServe(fmt.Sprintf("%s:%d", host, port))
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "bind address")
	cmd.Flags().IntVar(&port, "port", 4000, "RPC server port")
	cmd.Flags().Uint64Var(&validators, "validators", 5, "per-consensus validator count")
	cmd.Flags().Uint64Var(&maxRotations, "max-rotations", 3, "leader rotation cap")
	cmd.Flags().StringVar(&llmProvider, "llm-provider", "", `default LLM provider, "name:model"`)
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "disable headless browser path in the web handler")
	cmd.Flags().StringVar(&mockTable, "mock-table", "", "path to a YAML LiveIO mock table")

	return cmd
}
