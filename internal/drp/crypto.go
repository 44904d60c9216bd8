// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package drp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Encrypted archives use the openssl enc container so an operator can always
// fall back to a stock openssl binary on a rescue host:
//
//	openssl enc -d -aes-256-cbc -pbkdf2 -iter 10000 -in x.tar.gz.enc -out x.tar.gz
//
// Layout: "Salted__" magic, 8 byte salt, AES-256-CBC ciphertext with PKCS#7
// padding. Key and IV derive from PBKDF2-SHA256 over passphrase+salt.
const (
	opensslMagic     = "Salted__"
	opensslSaltLen   = 8
	pbkdf2Iterations = 10000
	keyLen           = 32
	ivLen            = aes.BlockSize
)

// ErrBadPassphrase covers both a wrong DRP_ENC_KEY and a truncated or
// tampered ciphertext; CBC cannot tell the two apart.
var ErrBadPassphrase = errors.New("bad passphrase or corrupt ciphertext")

// ErrNotEncrypted is returned when decrypt input lacks the openssl magic.
var ErrNotEncrypted = errors.New("input is not an openssl enc container")

func deriveKeyIV(passphrase, salt []byte) (key, iv []byte) {
	km := pbkdf2.Key(passphrase, salt, pbkdf2Iterations, keyLen+ivLen, sha256.New)
	return km[:keyLen], km[keyLen:]
}

// Encrypt streams src through AES-256-CBC into dst in the openssl enc
// container format.
func Encrypt(dst io.Writer, src io.Reader, passphrase []byte) error {
	salt := make([]byte, opensslSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	if _, err := dst.Write([]byte(opensslMagic)); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if _, err := dst.Write(salt); err != nil {
		return fmt.Errorf("write salt: %w", err)
	}

	key, iv := deriveKeyIV(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	mode := cipher.NewCBCEncrypter(block, iv)

	buf := make([]byte, 64*1024)
	var carry []byte
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			carry = append(carry, buf[:n]...)
			full := len(carry) - len(carry)%aes.BlockSize
			if full > 0 {
				mode.CryptBlocks(carry[:full], carry[:full])
				if _, err := dst.Write(carry[:full]); err != nil {
					return fmt.Errorf("write ciphertext: %w", err)
				}
				carry = append(carry[:0], carry[full:]...)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("read plaintext: %w", rerr)
		}
	}

	// PKCS#7: always emit a padding block, even for block-aligned input.
	pad := aes.BlockSize - len(carry)%aes.BlockSize
	for i := 0; i < pad; i++ {
		carry = append(carry, byte(pad))
	}
	mode.CryptBlocks(carry, carry)
	if _, err := dst.Write(carry); err != nil {
		return fmt.Errorf("write final block: %w", err)
	}
	return nil
}

// Decrypt streams an openssl enc container from src into dst, verifying the
// magic and stripping PKCS#7 padding. Wrong passphrases surface as
// ErrBadPassphrase when the padding check fails.
func Decrypt(dst io.Writer, src io.Reader, passphrase []byte) error {
	header := make([]byte, len(opensslMagic)+opensslSaltLen)
	if _, err := io.ReadFull(src, header); err != nil {
		return ErrNotEncrypted
	}
	if string(header[:len(opensslMagic)]) != opensslMagic {
		return ErrNotEncrypted
	}
	salt := header[len(opensslMagic):]

	key, iv := deriveKeyIV(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	mode := cipher.NewCBCDecrypter(block, iv)

	buf := make([]byte, 64*1024)
	var carry []byte   // undecrypted remainder, < one block
	var pending []byte // decrypted but unwritten, holds the potential final block
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			carry = append(carry, buf[:n]...)
			full := len(carry) - len(carry)%aes.BlockSize
			if full > 0 {
				chunk := make([]byte, full)
				mode.CryptBlocks(chunk, carry[:full])
				carry = append(carry[:0], carry[full:]...)
				pending = append(pending, chunk...)
				// Keep one block back; it may carry the padding.
				if flush := len(pending) - aes.BlockSize; flush > 0 {
					if _, err := dst.Write(pending[:flush]); err != nil {
						return fmt.Errorf("write plaintext: %w", err)
					}
					pending = append(pending[:0], pending[flush:]...)
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("read ciphertext: %w", rerr)
		}
	}

	if len(carry) != 0 || len(pending) != aes.BlockSize {
		return ErrBadPassphrase
	}
	pad := int(pending[aes.BlockSize-1])
	if pad < 1 || pad > aes.BlockSize {
		return ErrBadPassphrase
	}
	for _, b := range pending[aes.BlockSize-pad:] {
		if int(b) != pad {
			return ErrBadPassphrase
		}
	}
	if pad < aes.BlockSize {
		if _, err := dst.Write(pending[:aes.BlockSize-pad]); err != nil {
			return fmt.Errorf("write final plaintext: %w", err)
		}
	}
	return nil
}
