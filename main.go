package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/OdyseeTeam/powchain/blockchain"
	"github.com/OdyseeTeam/powchain/config"
	"github.com/OdyseeTeam/powchain/loader"
	"github.com/OdyseeTeam/powchain/miner"
	"github.com/OdyseeTeam/powchain/server"
	"github.com/OdyseeTeam/powchain/storage"
	"github.com/OdyseeTeam/powchain/transaction"

	"github.com/cockroachdb/errors"
	"github.com/pkg/profile"
	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		logrus.Fatalf("%+v", err)
	}
	setupLogging(cfg.Log)

	switch cfg.Profile {
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(cfg.Storage.DataDir)).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath(cfg.Storage.DataDir)).Stop()
	}

	if err := run(cfg); err != nil {
		logrus.Errorf("%+v", err)
		os.Exit(1)
	}
}

func setupLogging(cfg config.LogConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if strings.EqualFold(cfg.Format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func run(cfg config.Config) error {
	params := blockchain.DefaultParams()
	params.MineRate = cfg.Chain.MineRate
	chain := blockchain.New(params, blockchain.WithLedgerRules(transaction.Rules()))

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return errors.WithStack(err)
	}
	store, err := storage.OpenBlockStore(filepath.Join(cfg.Storage.DataDir, "blocks"))
	if err != nil {
		return err
	}
	defer store.Close()

	if _, err := loader.LoadChain(chain, store, 0); err != nil {
		return err
	}

	if cfg.Dump {
		return dump(chain.Blocks())
	}

	index, err := storage.OpenIndex(transaction.Codec{})
	if err != nil {
		return err
	}
	defer index.Close()

	if err := storage.NewSyncer(chain, store, index).Attach(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var srv *server.Server
	if cfg.API.Enabled {
		srv = server.New(chain, index)
		srv.Start(cfg.API.ListenAddr, cfg.API.ReadTimeout, cfg.API.WriteTimeout)
	}

	minerDone := make(chan error, 1)
	if cfg.Miner.Enabled {
		wallet, err := loadWallet(cfg.Miner.KeyFile)
		if err != nil {
			return err
		}
		logrus.Infof("mining rewards go to %s", wallet.Address())
		m := miner.New(chain, miner.RewardSource(wallet.Address()))
		go func() { minerDone <- m.Run(ctx) }()
	}

	select {
	case <-ctx.Done():
		logrus.Info("shutting down")
	case err := <-minerDone:
		if err != nil {
			return err
		}
	}
	stop()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("%+v", err)
		}
	}
	return nil
}

// loadWallet reads the hex ed25519 seed at path, creating a new one if the file does not exist.
func loadWallet(path string) (*transaction.Wallet, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		seed := make([]byte, ed25519.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			return nil, errors.WithStack(err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, errors.WithStack(err)
		}
		if err := os.WriteFile(path, []byte(hex.EncodeToString(seed)), 0o600); err != nil {
			return nil, errors.WithStack(err)
		}
		logrus.Infof("created miner key %s", path)
		return transaction.WalletFromKey(ed25519.NewKeyFromSeed(seed))
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}

	seed, err := hex.DecodeString(strings.TrimSpace(string(b)))
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, errors.Newf("miner key %s is not a hex ed25519 seed", path)
	}
	return transaction.WalletFromKey(ed25519.NewKeyFromSeed(seed))
}

func dump(blocks []blockchain.Block) error {
	data := pterm.TableData{{"height", "timestamp", "hash", "last hash", "difficulty", "nonce", "elements"}}
	for h, b := range blocks {
		data = append(data, []string{
			strconv.Itoa(h),
			time.Unix(0, b.Timestamp).UTC().Format(time.RFC3339Nano),
			b.Hash,
			b.LastHash,
			strconv.Itoa(b.Difficulty),
			strconv.FormatInt(b.Nonce, 10),
			strconv.Itoa(len(b.Data)),
		})
	}
	return errors.WithStack(pterm.DefaultTable.WithHasHeader().WithData(data).Render())
}
