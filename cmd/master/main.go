// Copyright 2024 The Kudu-Go Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Command master starts one replica of the sys catalog (spec §3). Flag
// parsing is the only ambient-service concern this module takes on (spec
// §14's non-goals exclude the rest of a real RPC-facing server), so this
// binary does no more than assemble a master.Options from flags and call
// master.CreateNew or master.Load.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/kudu-go/master/master"
	"github.com/kudu-go/master/quorum"
	"github.com/kudu-go/master/status"
	"github.com/kudu-go/master/util"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		glog.Fatalf("master: %v", err)
	}
}

var rootCmd = &cobra.Command{
	Use:          "master",
	Short:        "run one replica of the sys catalog",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

var flagOpts master.Options
var rpcAddrFlag string
var followerAddrsFlag []string
var leaderAddrFlag string
var createNewFlag bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "start a master, creating a new sys catalog or resuming an existing one",
	Long: `
Starts one master replica. --fs-root names the data directory holding this
replica's instance identity, consensus metadata, tablet metadata and row
store; a fresh directory is bootstrapped with --create-new, an existing one
is resumed by default.`,
	RunE: runStart,
}

func init() {
	f := startCmd.Flags()
	f.StringVar(&flagOpts.FSRoot, "fs-root", "", "data directory for this replica's persistent state (required)")
	f.StringVar(&rpcAddrFlag, "rpc-addr", "", "this replica's own host:port")
	f.BoolVar(&flagOpts.Leader, "leader", true, "start this replica as the quorum's LEADER")
	f.StringSliceVar(&followerAddrsFlag, "follower-addrs", nil, "comma-separated host:port list of follower replicas (leader only)")
	f.StringVar(&leaderAddrFlag, "leader-addr", "", "host:port of the replica that starts as LEADER (non-leader replicas only)")
	f.Int64Var(&flagOpts.InitialSeqno, "initial-seqno", 0, "starting seqno for a newly created quorum")
	f.BoolVar(&createNewFlag, "create-new", false, "bootstrap a brand-new sys catalog at --fs-root instead of resuming an existing one")
	f.IntVar(&flagOpts.ElectionTick, "election-tick", 0, "consensus election timeout, in ticks (0 keeps consensus.Config's default)")
	f.IntVar(&flagOpts.HeartbeatTick, "heartbeat-tick", 0, "consensus heartbeat interval, in ticks (0 keeps consensus.Config's default)")

	if err := startCmd.MarkFlagRequired("fs-root"); err != nil {
		panic(err)
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	opts, err := resolveOptions()
	if err != nil {
		return err
	}

	var m *master.Master
	if createNewFlag {
		m, err = master.CreateNew(context.Background(), opts, rpcPeerResolver{})
	} else {
		m, err = master.Load(opts)
	}
	if err != nil {
		return err
	}

	glog.Infof("master: replica %s running at %s (role will settle asynchronously)", m.SelfUUID(), opts.FSRoot)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	sig := <-sigc
	glog.Infof("master: received %s, shutting down", sig)
	m.Shutdown()
	return nil
}

func resolveOptions() (master.Options, error) {
	opts := flagOpts

	if rpcAddrFlag != "" {
		addr, err := util.ParseHostPort(rpcAddrFlag)
		if err != nil {
			return master.Options{}, status.Configurationf("--rpc-addr: %v", err)
		}
		opts.RPCAddress = addr
	}
	if leaderAddrFlag != "" {
		addr, err := util.ParseHostPort(leaderAddrFlag)
		if err != nil {
			return master.Options{}, status.Configurationf("--leader-addr: %v", err)
		}
		opts.LeaderAddress = addr
	}
	for _, s := range followerAddrsFlag {
		addr, err := util.ParseHostPort(s)
		if err != nil {
			return master.Options{}, status.Configurationf("--follower-addrs: %v", err)
		}
		opts.FollowerAddresses = append(opts.FollowerAddresses, addr)
	}
	return opts, nil
}

// rpcPeerResolver is the production quorum.PeerResolver: resolving a remote
// peer's permanent_uuid is an RPC call, and RPC transport is out of scope
// for this module (spec §14's non-goals) — there is no client stack here to
// make that call with. It only matters for a distributed quorum's
// non-local peers; --leader with no --follower-addrs and no --leader-addr
// never reaches it.
type rpcPeerResolver struct{}

func (rpcPeerResolver) ResolvePermanentUUID(ctx context.Context, addr util.HostPort) (string, error) {
	return "", status.ServiceUnavailablef(
		"resolving peer %s requires an RPC client, which this module does not implement (spec's RPC-transport non-goal)", addr)
}

var _ quorum.PeerResolver = rpcPeerResolver{}
