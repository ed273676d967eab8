package config

type Config struct {
	LowWaterMark int
	// SealSecret - секрет шифрования ключей в хранилище
	SealSecret string
}
