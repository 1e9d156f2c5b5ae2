package main

import (
	"errors"

	"github.com/developeragencia/conselhoscursor-sub003/config"
	"github.com/developeragencia/conselhoscursor-sub003/internal/security"
)

// loadKeys читает ключи согласно alg. Для подписи (withPrivate) нужен
// приватный ключ; публичный при его отсутствии выводится из приватного.
func loadKeys(j config.JWT, withPrivate bool) (security.Keys, error) {
	if j.Alg == "HS256" {
		return security.Keys{Secret: []byte(j.Secret)}, nil
	}

	var keys security.Keys
	if j.PrivateKeyPath != "" {
		priv, err := security.LoadRSAPrivateKeyFromPEM(j.PrivateKeyPath)
		if err != nil {
			return keys, err
		}
		keys.RSAPrivate = priv
	} else if withPrivate {
		return keys, errors.New("security.jwt.privateKeyPath is required to sign tokens")
	}

	if j.PublicKeyPath != "" {
		pub, err := security.LoadRSAPublicKeyFromPEM(j.PublicKeyPath)
		if err != nil {
			return keys, err
		}
		keys.RSAPublic = pub
	} else if keys.RSAPrivate != nil {
		keys.RSAPublic = &keys.RSAPrivate.PublicKey
	}
	return keys, nil
}

