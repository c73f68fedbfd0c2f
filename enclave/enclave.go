// Package enclave provides the key-generation, seed-exchange, and
// attestation collaborators the boundary exposes. The cryptographic
// protocol is the narrow contract the boundary consumes: a bootstrap
// node creates the consensus seed, other nodes register a key, present
// an attestation certificate, and receive the seed sealed to that key.
package enclave

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/wippyai/enclave-rt/errors"
)

// SeedLen is the byte length of the consensus seed.
const SeedLen = 32

const (
	registrationKeyFile = "registration_key.bin"
	bootstrapKeyFile    = "bootstrap_key.bin"
	seedFile            = "consensus_seed.bin"
	reportFile          = "attestation_report.json"
)

var hkdfInfo = []byte("enclave-rt/consensus-seed/v1")

// Enclave holds the node's key material under a home directory. All
// methods are safe for concurrent use.
type Enclave struct {
	home string
	log  *zap.Logger

	mu           sync.Mutex
	registration *secp256k1.PrivateKey
	bootstrap    *secp256k1.PrivateKey
	seed         []byte
}

// New opens the enclave state under home, loading any key material a
// previous run persisted.
func New(home string, log *zap.Logger) (*Enclave, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(home, 0o700); err != nil {
		return nil, errors.Enclave("create enclave home", err)
	}
	e := &Enclave{home: home, log: log}

	if key, err := e.loadKey(registrationKeyFile); err == nil {
		e.registration = key
	}
	if key, err := e.loadKey(bootstrapKeyFile); err == nil {
		e.bootstrap = key
	}
	if seed, err := os.ReadFile(e.path(seedFile)); err == nil && len(seed) == SeedLen {
		e.seed = seed
	}
	return e, nil
}

// KeyGen creates (or returns) the node's registration key and hands back
// its compressed public key.
func (e *Enclave) KeyGen() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.registration == nil {
		key, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, errors.Enclave("generate registration key", err)
		}
		if err := e.storeKey(registrationKeyFile, key); err != nil {
			return nil, err
		}
		e.registration = key
		e.log.Debug("generated registration key")
	}
	return e.registration.PubKey().SerializeCompressed(), nil
}

// InitBootstrap turns this node into the bootstrap node: it creates the
// consensus seed and the bootstrap key, returning the bootstrap public
// key other nodes seal their registration against.
func (e *Enclave) InitBootstrap() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.seed == nil {
		seed := make([]byte, SeedLen)
		if _, err := rand.Read(seed); err != nil {
			return nil, errors.Enclave("generate consensus seed", err)
		}
		if err := os.WriteFile(e.path(seedFile), seed, 0o600); err != nil {
			return nil, errors.Enclave("persist consensus seed", err)
		}
		e.seed = seed
	}
	if e.bootstrap == nil {
		key, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, errors.Enclave("generate bootstrap key", err)
		}
		if err := e.storeKey(bootstrapKeyFile, key); err != nil {
			return nil, err
		}
		e.bootstrap = key
	}
	e.log.Debug("bootstrap initialized")
	return e.bootstrap.PubKey().SerializeCompressed(), nil
}

// attestationReport is the self-describing certificate a node presents
// when asking for the seed.
type attestationReport struct {
	PublicKey string `json:"public_key"` // hex, compressed secp256k1
	Digest    string `json:"digest"`     // hex sha256 of the public key
}

// CreateAttestationReport writes the node's report to the enclave home.
// KeyGen must have run first.
func (e *Enclave) CreateAttestationReport() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.registration == nil {
		return errors.Enclave("create attestation report", fmt.Errorf("no registration key, run key_gen first"))
	}
	pub := e.registration.PubKey().SerializeCompressed()
	digest := sha256.Sum256(pub)
	report := attestationReport{
		PublicKey: hex.EncodeToString(pub),
		Digest:    hex.EncodeToString(digest[:]),
	}
	data, err := json.Marshal(report)
	if err != nil {
		return errors.Enclave("encode attestation report", err)
	}
	if err := os.WriteFile(e.path(reportFile), data, 0o600); err != nil {
		return errors.Enclave("persist attestation report", err)
	}
	return nil
}

// MasterCert returns the self-describing certificate of the bootstrap
// public key. Nodes verify it and unseal their seed against that key.
func (e *Enclave) MasterCert() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.bootstrap == nil {
		return nil, errors.Enclave("master cert", fmt.Errorf("node is not the bootstrap node"))
	}
	pub := e.bootstrap.PubKey().SerializeCompressed()
	digest := sha256.Sum256(pub)
	cert, err := json.Marshal(attestationReport{
		PublicKey: hex.EncodeToString(pub),
		Digest:    hex.EncodeToString(digest[:]),
	})
	if err != nil {
		return nil, errors.Enclave("encode master cert", err)
	}
	return cert, nil
}

// AttestationReport returns the last written report.
func (e *Enclave) AttestationReport() ([]byte, error) {
	data, err := os.ReadFile(e.path(reportFile))
	if err != nil {
		return nil, errors.Enclave("read attestation report", err)
	}
	return data, nil
}

// GetEncryptedSeed verifies a node's attestation certificate and returns
// the consensus seed sealed to the key it carries. Only the bootstrap
// node can answer this.
func (e *Enclave) GetEncryptedSeed(cert []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.seed == nil || e.bootstrap == nil {
		return nil, errors.Enclave("get encrypted seed", fmt.Errorf("node is not the bootstrap node"))
	}
	nodePub, err := parseReport(cert)
	if err != nil {
		return nil, err
	}
	sealed, err := seal(e.bootstrap, nodePub, e.seed)
	if err != nil {
		return nil, err
	}
	e.log.Debug("sealed consensus seed", zap.Int("cert_bytes", len(cert)))
	return sealed, nil
}

// InitNode unseals the consensus seed a bootstrap node issued for this
// node's registration key. masterCert carries the bootstrap public key.
func (e *Enclave) InitNode(masterCert, encryptedSeed []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.registration == nil {
		return errors.Enclave("init node", fmt.Errorf("no registration key, run key_gen first"))
	}
	bootstrapPub, err := parseReport(masterCert)
	if err != nil {
		return err
	}
	seed, err := open(e.registration, bootstrapPub, encryptedSeed)
	if err != nil {
		return err
	}
	if len(seed) != SeedLen {
		return errors.Enclave("init node", fmt.Errorf("unsealed seed has %d bytes, expected %d", len(seed), SeedLen))
	}
	if err := os.WriteFile(e.path(seedFile), seed, 0o600); err != nil {
		return errors.Enclave("persist consensus seed", err)
	}
	e.seed = seed
	e.log.Debug("node seed installed")
	return nil
}

// Seeded reports whether this node holds the consensus seed.
func (e *Enclave) Seeded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seed != nil
}

func parseReport(cert []byte) (*secp256k1.PublicKey, error) {
	var report attestationReport
	if err := json.Unmarshal(cert, &report); err != nil {
		return nil, errors.Enclave("parse attestation certificate", err)
	}
	pub, err := hex.DecodeString(report.PublicKey)
	if err != nil {
		return nil, errors.Enclave("decode certificate public key", err)
	}
	digest := sha256.Sum256(pub)
	if report.Digest != hex.EncodeToString(digest[:]) {
		return nil, errors.Enclave("verify attestation certificate", fmt.Errorf("digest mismatch"))
	}
	key, err := secp256k1.ParsePubKey(pub)
	if err != nil {
		return nil, errors.Enclave("parse certificate public key", err)
	}
	return key, nil
}

// seal encrypts payload for the holder of peerPub: ECDH, HKDF-SHA256 to
// a symmetric key, then chacha20poly1305 with a random nonce prepended.
func seal(priv *secp256k1.PrivateKey, peerPub *secp256k1.PublicKey, payload []byte) ([]byte, error) {
	aead, err := deriveAEAD(priv, peerPub)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Enclave("generate nonce", err)
	}
	return aead.Seal(nonce, nonce, payload, nil), nil
}

func open(priv *secp256k1.PrivateKey, peerPub *secp256k1.PublicKey, sealed []byte) ([]byte, error) {
	aead, err := deriveAEAD(priv, peerPub)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errors.Enclave("unseal seed", fmt.Errorf("sealed payload too short"))
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	payload, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Enclave("unseal seed", err)
	}
	return payload, nil
}

func deriveAEAD(priv *secp256k1.PrivateKey, peerPub *secp256k1.PublicKey) (cipher.AEAD, error) {
	shared := secp256k1.GenerateSharedSecret(priv, peerPub)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, hkdfInfo), key); err != nil {
		return nil, errors.Enclave("derive seal key", err)
	}
	c, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errors.Enclave("derive seal key", err)
	}
	return c, nil
}

func (e *Enclave) loadKey(name string) (*secp256k1.PrivateKey, error) {
	raw, err := os.ReadFile(e.path(name))
	if err != nil {
		return nil, err
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("key file %s has %d bytes", name, len(raw))
	}
	return secp256k1.PrivKeyFromBytes(raw), nil
}

func (e *Enclave) storeKey(name string, key *secp256k1.PrivateKey) error {
	if err := os.WriteFile(e.path(name), key.Serialize(), 0o600); err != nil {
		return errors.Enclave("persist key", err)
	}
	return nil
}

func (e *Enclave) path(name string) string {
	return filepath.Join(e.home, name)
}
