// Package config loads chainbook's boot-time configuration from the
// environment (§6.4), the same way the teacher's bootstrap CLI wires
// viper.AutomaticEnv() in cmd/bootstrap/cmd/root.go, generalized from
// flags to the mandatory-env-var surface this spec requires.
package config

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/suprabook/chainbook/crypto"
	"github.com/suprabook/chainbook/model/chain"
)

// Config is the immutable, process-wide configuration constructed once
// at init and never mutated thereafter (§9 "Global state").
type Config struct {
	TickDuration          time.Duration
	MultiplicativeFactor  float64
	NumValidators         uint32
	ValidatorPublicKeys   []crypto.PublicKey
	Self                  chain.ValidatorID
	SelfPrivateKey        crypto.PrivateKey
	FaucetPublicKey       crypto.PublicKey
	FaucetPrivateKey      crypto.PrivateKey
}

// Load reads and validates the environment variables listed in §6.4 for
// the replica running as validator index `self`. Missing mandatory
// variables are fatal-init (§7): Load returns an error and the caller
// must abort the process rather than run with partial configuration.
func Load(self chain.ValidatorID) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	if !v.IsSet("NUM_VALIDATORS") {
		return nil, errors.New("missing mandatory env var NUM_VALIDATORS")
	}
	n := v.GetUint32("NUM_VALIDATORS")
	if n == 0 {
		return nil, errors.New("NUM_VALIDATORS must be positive")
	}
	if uint32(self) >= n {
		return nil, errors.Errorf("validator id %d out of range for NUM_VALIDATORS=%d", self, n)
	}

	if !v.IsSet("TICK_DURATION") {
		return nil, errors.New("missing mandatory env var TICK_DURATION")
	}
	tickMS := v.GetInt64("TICK_DURATION")
	if tickMS <= 0 {
		return nil, errors.New("TICK_DURATION must be a positive number of milliseconds")
	}

	if !v.IsSet("MULTIPLICATIVE_FACTOR") {
		return nil, errors.New("missing mandatory env var MULTIPLICATIVE_FACTOR")
	}
	factor := v.GetFloat64("MULTIPLICATIVE_FACTOR")
	if factor <= 1 {
		return nil, errors.New("MULTIPLICATIVE_FACTOR must be greater than 1")
	}

	cfg := &Config{
		TickDuration:         time.Duration(tickMS) * time.Millisecond,
		MultiplicativeFactor: factor,
		NumValidators:        n,
		Self:                 self,
	}

	cfg.ValidatorPublicKeys = make([]crypto.PublicKey, n)
	for i := uint32(0); i < n; i++ {
		key := fmt.Sprintf("PUBLIC_KEY_%d", i)
		if !v.IsSet(key) {
			return nil, errors.Errorf("missing mandatory env var %s", key)
		}
		pk, err := crypto.PublicKeyFromHex(v.GetString(key))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid %s", key)
		}
		cfg.ValidatorPublicKeys[i] = pk
	}

	secretKey := fmt.Sprintf("SECRET_KEY_%d", self)
	if !v.IsSet(secretKey) {
		return nil, errors.Errorf("missing mandatory env var %s", secretKey)
	}
	selfPK, selfSK, err := crypto.KeyPairFromHex(v.GetString(secretKey))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid %s", secretKey)
	}
	if selfPK != cfg.ValidatorPublicKeys[self] {
		return nil, errors.Errorf("SECRET_KEY_%d does not match PUBLIC_KEY_%d", self, self)
	}
	cfg.SelfPrivateKey = selfSK

	if !v.IsSet("FAUCET_PK") {
		return nil, errors.New("missing mandatory env var FAUCET_PK")
	}
	if !v.IsSet("FAUCET_SK") {
		return nil, errors.New("missing mandatory env var FAUCET_SK")
	}
	faucetPub, faucetPriv, err := crypto.KeyPairFromHex(v.GetString("FAUCET_SK"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid FAUCET_SK")
	}
	declaredFaucetPub, err := crypto.PublicKeyFromHex(v.GetString("FAUCET_PK"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid FAUCET_PK")
	}
	if faucetPub != declaredFaucetPub {
		return nil, errors.New("FAUCET_SK does not match FAUCET_PK")
	}
	cfg.FaucetPublicKey = faucetPub
	cfg.FaucetPrivateKey = faucetPriv

	return cfg, nil
}

// Quorum returns 2f+1 for the configured N = 3f+1 validator roster.
func (c *Config) Quorum() int {
	f := (int(c.NumValidators) - 1) / 3
	return 2*f + 1
}

// Faulty returns f for the configured N = 3f+1 validator roster.
func (c *Config) Faulty() int {
	return (int(c.NumValidators) - 1) / 3
}
