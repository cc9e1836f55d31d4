package conf

import "github.com/chestguard/chestguard/internal/secrets"

// resolveSecrets replaces credential settings with the contents of their
// *File counterpart or the expansion of ${VAR} references.
func resolveSecrets(s *Settings) error {
	fields := []struct {
		name  string
		file  string
		value *string
	}{
		{"enrichment.apikey", s.Enrichment.APIKeyFile, &s.Enrichment.APIKey},
		{"output.mysql.password", s.Output.MySQL.PasswordFile, &s.Output.MySQL.Password},
		{"storage.ftp.password", s.Storage.FTP.PasswordFile, &s.Storage.FTP.Password},
		{"storage.sftp.password", s.Storage.SFTP.PasswordFile, &s.Storage.SFTP.Password},
		{"mqtt.password", s.MQTT.PasswordFile, &s.MQTT.Password},
	}
	for _, f := range fields {
		if err := secrets.ResolveInto(f.name, f.file, f.value); err != nil {
			return err
		}
	}
	return nil
}
