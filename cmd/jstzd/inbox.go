package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	bip39 "github.com/tyler-smith/go-bip39"

	"github.com/jstz-dev/jstz-core/core"
)

// newInboxCmd groups the devnet-only commands that stand in for a real L1
// inbox: generating a signing key, building and signing one of the three
// operation kinds, and queuing a deposit or oracle response directly (both
// bypass signature verification in the dispatcher).
func newInboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "queue messages for the next `jstzd run` to process",
	}
	cmd.AddCommand(newInboxKeygenCmd())
	cmd.AddCommand(newInboxDeployCmd())
	cmd.AddCommand(newInboxRunCmd())
	cmd.AddCommand(newInboxDepositCmd())
	cmd.AddCommand(newInboxOracleResponseCmd())
	return cmd
}

// newInboxKeygenCmd generates an ed25519 signer, by default from a fresh
// BIP-39 mnemonic (printed once for the caller to store) rather than raw
// entropy, so a devnet key can be backed up and restored the same way an
// operator already expects from other wallet tooling. --from-mnemonic
// imports an existing phrase instead of generating one.
func newInboxKeygenCmd() *cobra.Command {
	var fromMnemonic string
	var passphrase string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "generate (or import) an ed25519 signer and print its address",
		RunE: func(cmd *cobra.Command, args []string) error {
			mnemonic := fromMnemonic
			if mnemonic == "" {
				entropy, err := bip39.NewEntropy(256)
				if err != nil {
					return err
				}
				mnemonic, err = bip39.NewMnemonic(entropy)
				if err != nil {
					return err
				}
			} else if !bip39.IsMnemonicValid(mnemonic) {
				return errors.New("invalid mnemonic checksum")
			}

			seed := bip39.NewSeed(mnemonic, passphrase)
			priv := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
			signer, err := core.NewEd25519Signer(priv)
			if err != nil {
				return err
			}

			fmt.Printf("address:  %s\n", signer.Address())
			fmt.Printf("secret:   %s\n", hex.EncodeToString(priv.Seed()))
			if fromMnemonic == "" {
				fmt.Printf("mnemonic: %s\n", mnemonic)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fromMnemonic, "from-mnemonic", "", "import an existing BIP-39 mnemonic instead of generating one")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "optional BIP-39 seed passphrase")
	return cmd
}

func loadSigner(hexSeed string) (*core.Signer, error) {
	seed, err := hex.DecodeString(hexSeed)
	if err != nil {
		return nil, fmt.Errorf("decode --key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("--key must be a %d-byte hex seed", ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return core.NewEd25519Signer(priv)
}

// signOperation builds and signs a SignedOperation, then encodes it as an
// InboxExternal envelope ready to append to inbox.jsonl.
func signOperation(signer *core.Signer, nonce uint64, kind core.ContentKind, deploy *core.DeployFunction, run *core.RunFunction, reveal *core.RevealLargePayload) ([]byte, error) {
	op := core.Operation{
		Source: signer.Address(),
		Nonce:  nonce,
		Kind:   kind,
		Deploy: deploy,
		Run:    run,
		Reveal: reveal,
	}
	digest, err := op.Hash()
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(digest)
	if err != nil {
		return nil, err
	}
	signed := core.SignedOperation{Operation: op, PublicKey: signer.PublicKey(), Signature: sig}
	return core.EncodeInboxExternal(signed)
}

func newInboxDeployCmd() *cobra.Command {
	var key string
	var nonce uint64
	var codePath string
	var credit uint64

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "queue a DeployFunction operation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			signer, err := loadSigner(key)
			if err != nil {
				return err
			}
			code, err := os.ReadFile(codePath)
			if err != nil {
				return err
			}
			payload, err := signOperation(signer, nonce, core.ContentDeployFunction,
				&core.DeployFunction{Code: code, InitialCredit: credit}, nil, nil)
			if err != nil {
				return err
			}
			if err := appendInboxFile(inboxFilePath(cfg.Store.Dir), payload); err != nil {
				return err
			}
			deployed := core.DeriveSmartFunctionAddress(signer.Address(), nonce, code)
			fmt.Println("queued deploy from", signer.Address(), "-> will be deployed at", deployed)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "hex-encoded ed25519 seed")
	cmd.Flags().Uint64Var(&nonce, "nonce", 0, "source account nonce")
	cmd.Flags().StringVar(&codePath, "code", "", "path to the JS source defining the handler function")
	cmd.Flags().Uint64Var(&credit, "credit", 0, "initial balance to credit the deployed function")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func newInboxRunCmd() *cobra.Command {
	var key string
	var nonce uint64
	var target, entry, method, bodyPath string
	var amount, gasLimit uint64

	cmd := &cobra.Command{
		Use:   "run",
		Short: "queue a RunFunction operation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			signer, err := loadSigner(key)
			if err != nil {
				return err
			}
			targetAddr, err := core.ParseAddress(target)
			if err != nil {
				return err
			}
			var body []byte
			if bodyPath != "" {
				body, err = os.ReadFile(bodyPath)
				if err != nil {
					return err
				}
			}
			payload, err := signOperation(signer, nonce, core.ContentRunFunction, nil, &core.RunFunction{
				Target:   targetAddr,
				Entry:    entry,
				Method:   method,
				Body:     body,
				Amount:   amount,
				GasLimit: gasLimit,
			}, nil)
			if err != nil {
				return err
			}
			if err := appendInboxFile(inboxFilePath(cfg.Store.Dir), payload); err != nil {
				return err
			}
			fmt.Println("queued run against", targetAddr)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "hex-encoded ed25519 seed")
	cmd.Flags().Uint64Var(&nonce, "nonce", 0, "source account nonce")
	cmd.Flags().StringVar(&target, "target", "", "deployed smart function address")
	cmd.Flags().StringVar(&entry, "entry", "/", "request path passed to the handler")
	cmd.Flags().StringVar(&method, "method", "GET", "request method passed to the handler")
	cmd.Flags().StringVar(&bodyPath, "body", "", "path to a file used as the request body")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "mutez transferred to the target before invocation")
	cmd.Flags().Uint64Var(&gasLimit, "gas-limit", core.GasLimit, "gas budget for this call alone, on top of the dispatcher-wide ceiling")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func newInboxDepositCmd() *cobra.Command {
	var receiver string
	var amount uint64

	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "queue an L1 bridge deposit (internal message, no signature)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			addr, err := core.ParseAddress(receiver)
			if err != nil {
				return err
			}
			payload, err := core.EncodeInboxDeposit(core.Deposit{Receiver: addr, Amount: amount})
			if err != nil {
				return err
			}
			if err := appendInboxFile(inboxFilePath(cfg.Store.Dir), payload); err != nil {
				return err
			}
			fmt.Println("queued deposit to", addr)
			return nil
		},
	}
	cmd.Flags().StringVar(&receiver, "receiver", "", "account to credit")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "mutez to credit")
	_ = cmd.MarkFlagRequired("receiver")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newInboxOracleResponseCmd() *cobra.Command {
	var requestID uint64
	var status int
	var bodyPath string
	var timeout bool

	cmd := &cobra.Command{
		Use:   "oracle-response",
		Short: "queue a resolved (or timed out) oracle response for a pending request",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			var body []byte
			if bodyPath != "" {
				body, err = os.ReadFile(bodyPath)
				if err != nil {
					return err
				}
			}
			payload, err := core.EncodeInboxOracleResponse(core.OracleResponse{
				RequestID:  requestID,
				StatusCode: status,
				Body:       body,
				Timeout:    timeout,
			})
			if err != nil {
				return err
			}
			if err := appendInboxFile(inboxFilePath(cfg.Store.Dir), payload); err != nil {
				return err
			}
			fmt.Println("queued oracle response for request", requestID)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&requestID, "id", 0, "oracle request id")
	cmd.Flags().IntVar(&status, "status", 200, "HTTP status code to report")
	cmd.Flags().StringVar(&bodyPath, "body", "", "path to a file used as the response body")
	cmd.Flags().BoolVar(&timeout, "timeout", false, "mark the response as a timeout instead of a real result")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
