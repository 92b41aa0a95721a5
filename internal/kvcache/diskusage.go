package kvcache

import (
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
)

func (sc *StoreConfig) checkFreeSpace() error {
	if sc.MinimumFreeSpace <= 0 {
		return nil
	}

	usage, err := disk.Usage(sc.Path)
	if err != nil {
		return err
	}

	freeGB := usage.Free / (1024 * 1024 * 1024)
	if int(freeGB) < sc.MinimumFreeSpace {
		return errors.New("not enough space available on disk for cache")
	}
	return nil
}

// displayDiskUsage logs disk usage for the cache path.
func displayDiskUsage(path string) error {
	usage, err := disk.Usage(path)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"Path":       path,
		"Total (GB)": fmt.Sprintf("%.2f", float64(usage.Total)/1e9),
		"Used (GB)":  fmt.Sprintf("%.2f", float64(usage.Used)/1e9),
		"Free (GB)":  fmt.Sprintf("%.2f", float64(usage.Free)/1e9),
	}).Info("Cache disk usage")

	return nil
}
