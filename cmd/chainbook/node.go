package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/suprabook/chainbook/config"
	"github.com/suprabook/chainbook/consensus/replica"
	"github.com/suprabook/chainbook/execution"
	"github.com/suprabook/chainbook/mempool"
	"github.com/suprabook/chainbook/model/chain"
	"github.com/suprabook/chainbook/module"
	"github.com/suprabook/chainbook/module/metrics"
	"github.com/suprabook/chainbook/network"
	"github.com/suprabook/chainbook/rpc"
)

// commitTimeout bounds how long an RPC submission waits for its
// containing block to commit before the caller sees ErrRequestTimedOut
// (§5 "Inbound RPC requests carry no deadline at this layer" — this is
// the RPC engine's own deadline, not one the network layer imposes).
const commitTimeout = 30 * time.Second

func newNodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "node <id>",
		Short: "launch a replica with the given validator id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(args[0])
		},
	}
}

func runNode(idArg string) error {
	id, err := strconv.ParseUint(idArg, 10, 32)
	if err != nil {
		return err
	}
	self := chain.ValidatorID(id)
	log := newLogger().With().Uint32("validator_id", uint32(self)).Logger()

	cfg, err := config.Load(self)
	if err != nil {
		log.Fatal().Err(err).Msg("fatal-init: could not load configuration")
	}

	reg := prometheus.NewRegistry()
	mc := metrics.NewCollector(reg)

	local := module.NewLocal(self, cfg.ValidatorPublicKeys[self], cfg.SelfPrivateKey)
	pool := mempool.New(log)
	exec := execution.New(log, cfg.FaucetPublicKey, mc)

	rep := replica.New(log, cfg, local, pool, exec, mc, nil)
	rpcEngine := rpc.New(log, exec, rep, cfg.FaucetPublicKey, cfg.FaucetPrivateKey, commitTimeout)
	rep.SetCommitObserver(rpcEngine)

	book := newAddressBook(cfg.NumValidators, consensusBase, rpcBase)
	mw, err := network.New(log, self, book.consensusAddr(self), book.peers(self), time.Duration(reconnectMS)*time.Millisecond)
	if err != nil {
		log.Fatal().Err(err).Msg("fatal-init: could not start consensus middleware")
	}
	if err := rep.Register(mw); err != nil {
		log.Fatal().Err(err).Msg("fatal-init: could not register replica on consensus channel")
	}

	rpcLn, err := net.Listen("tcp", book.rpcAddr(self))
	if err != nil {
		log.Fatal().Err(err).Msg("fatal-init: could not start rpc listener")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mw.Start()
	rep.Start()
	go rpcEngine.Listen(ctx, rpcLn)

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
	}

	log.Info().
		Str("consensus_addr", book.consensusAddr(self)).
		Str("rpc_addr", book.rpcAddr(self)).
		Msg("replica started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	cancel()
	mw.Stop()
	rep.Stop()
	<-rep.Done()
	return nil
}
