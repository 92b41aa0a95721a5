package kvcache

import (
	"errors"
	"os"
)

func (sc *StoreConfig) checkConfig() error {
	if sc.Path == "" {
		return errors.New("no cache path provided in configuration")
	}

	info, err := os.Stat(sc.Path)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(sc.Path, 0o755); mkErr != nil {
			return mkErr
		}
		return sc.checkFreeSpace()
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("cache path is not a directory")
	}

	return sc.checkFreeSpace()
}
