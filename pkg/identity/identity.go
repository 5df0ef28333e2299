// Package identity handles keypair persistence for long-lived nodes.
package identity

import (
	"crypto/rand"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Info bundles a node's keypair with its derived peer id.
type Info struct {
	PrivateKey crypto.PrivKey
	PublicKey  crypto.PubKey
	PeerID     peer.ID
}

// Generate creates a fresh ed25519 identity.
func Generate() (*Info, error) {
	priv, pub, err := crypto.GenerateKeyPairWithReader(crypto.Ed25519, 2048, rand.Reader)
	if err != nil {
		return nil, err
	}
	peerID, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return &Info{PrivateKey: priv, PublicKey: pub, PeerID: peerID}, nil
}

// Save writes the private key to path, creating parent directories. The
// file is private to the owner.
func Save(info *Info, path string) error {
	data, err := crypto.MarshalPrivateKey(info.PrivateKey)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Load reads a private key from path.
func Load(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	priv, err := crypto.UnmarshalPrivateKey(data)
	if err != nil {
		return nil, err
	}
	pub := priv.GetPublic()
	peerID, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return &Info{PrivateKey: priv, PublicKey: pub, PeerID: peerID}, nil
}

// LoadOrCreate loads the identity at path, generating and saving a new one
// if the file does not exist or cannot be parsed.
func LoadOrCreate(path string) (*Info, error) {
	if _, err := os.Stat(path); err == nil {
		if info, err := Load(path); err == nil {
			return info, nil
		}
	}
	info, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := Save(info, path); err != nil {
		return nil, err
	}
	return info, nil
}
