package save

import (
	"errors"
	"sync"

	"github.com/zalando/go-keyring"
)

const keyringService = "rewardplay"

// KeyringTokenStore keeps the credential record in the OS keyring instead of a file.
type KeyringTokenStore struct {
	m    *sync.Mutex
	user string
}

func NewKeyringTokenStore(user string) *KeyringTokenStore {
	return &KeyringTokenStore{
		m:    &sync.Mutex{},
		user: user,
	}
}

func (k *KeyringTokenStore) Location() string {
	return "keyring:" + keyringService + "/" + k.user
}

func (k *KeyringTokenStore) Read() (Credentials, error) {
	k.m.Lock()
	defer k.m.Unlock()

	data, err := keyring.Get(keyringService, k.user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return Credentials{}, ErrTokenNotFound
		}
		return Credentials{}, err
	}

	if data == "" {
		return Credentials{}, ErrTokenNotFound
	}

	return unmarshalCredentials([]byte(data))
}

func (k *KeyringTokenStore) Write(c Credentials) error {
	k.m.Lock()
	defer k.m.Unlock()

	data, err := marshalCredentials(c)
	if err != nil {
		return err
	}

	return keyring.Set(keyringService, k.user, string(data))
}
