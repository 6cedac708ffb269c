package testutil

import (
	"crypto/ed25519"

	"github.com/jstz-dev/jstz-core/core"
)

// DevnetFixture bundles a fresh Sandbox-backed WALHost with a funded
// genesis signer: a durable store, a transaction engine over it, and an
// account that can already afford to deploy and call. Only this package's
// own tests use it.
type DevnetFixture struct {
	Sandbox *Sandbox
	Host    *core.WALHost
	Engine  *core.TxEngine
	Signer  *core.Signer
}

// NewDevnetFixture opens a WALHost inside a fresh sandbox directory and
// credits a newly generated ed25519 signer with initialBalance mutez via a
// top-level transaction committed before returning, so callers can deploy
// or run immediately.
func NewDevnetFixture(initialBalance uint64) (*DevnetFixture, error) {
	sb, err := NewSandbox()
	if err != nil {
		return nil, err
	}
	host, err := core.OpenWALHost(core.WALHostConfig{Dir: sb.Root})
	if err != nil {
		return nil, err
	}
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	signer, err := core.NewEd25519Signer(priv)
	if err != nil {
		return nil, err
	}

	engine := core.NewTxEngine(core.NewDurableStore(host))
	if initialBalance > 0 {
		tx := engine.Begin()
		if err := core.NewAccounts(tx).Credit(signer.Address(), initialBalance); err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
	}

	return &DevnetFixture{Sandbox: sb, Host: host, Engine: engine, Signer: signer}, nil
}

// Close releases the fixture's backing sandbox directory.
func (f *DevnetFixture) Close() error {
	if err := f.Host.Close(); err != nil {
		return err
	}
	return f.Sandbox.Cleanup()
}
