package sftppool

// Strategy is one SSH negotiation profile. Strategies are tried in order until
// a connection is established; game-server hosts run anything from current
// OpenSSH to decade-old appliance builds, so the list degrades from modern to
// ultra-legacy algorithm sets.
type Strategy struct {
	Name              string
	KeyExchanges      []string
	Ciphers           []string
	HostKeyAlgorithms []string
}

// DefaultStrategies returns the negotiation ladder in preference order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{
			Name: "modern-secure",
			KeyExchanges: []string{
				"curve25519-sha256",
				"curve25519-sha256@libssh.org",
				"ecdh-sha2-nistp256",
			},
			Ciphers: []string{
				"chacha20-poly1305@openssh.com",
				"aes128-gcm@openssh.com",
				"aes256-ctr",
			},
		},
		{
			Name: "legacy-compatible",
			KeyExchanges: []string{
				"ecdh-sha2-nistp256",
				"diffie-hellman-group14-sha256",
				"diffie-hellman-group14-sha1",
			},
			Ciphers: []string{
				"aes256-ctr",
				"aes192-ctr",
				"aes128-ctr",
			},
			HostKeyAlgorithms: []string{
				"rsa-sha2-512",
				"rsa-sha2-256",
				"ssh-rsa",
			},
		},
		{
			Name: "ultra-legacy",
			KeyExchanges: []string{
				"diffie-hellman-group14-sha1",
				"diffie-hellman-group1-sha1",
			},
			Ciphers: []string{
				"aes128-ctr",
				"aes128-cbc",
				"3des-cbc",
			},
			HostKeyAlgorithms: []string{
				"ssh-rsa",
				"ssh-dss",
			},
		},
	}
}
