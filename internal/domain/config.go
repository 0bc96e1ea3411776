package domain

type Config struct {
	FQDN    string `yaml:"fqdn"`
	Address string `yaml:"address"`
	SignKey string `yaml:"signkey"`
}
