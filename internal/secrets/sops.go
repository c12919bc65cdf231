// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package secrets

import (
	"bytes"

	"github.com/getsops/sops/v3/decrypt"
)

// IsEncrypted reports whether data looks like a SOPS-encrypted
// document.
func IsEncrypted(data []byte) bool {
	return bytes.Contains(data, []byte(`"sops"`)) ||
		bytes.Contains(data, []byte("\nsops:"))
}

// Decrypt decrypts a SOPS-encrypted binary document using whatever
// key sources the SOPS library can reach (KMS, age, PGP).
func Decrypt(data []byte) ([]byte, error) {
	ret, err := decrypt.Data(data, "binary")
	if err != nil {
		return nil, err
	}
	return ret, nil
}
