// Package filehash fingerprints the game files that must match across a
// room. Two installations with the same digest run the same rules.
package filehash

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"
)

const defaultWorkers = 4

// Calculator hashes Files below Root. Missing files are part of the
// fingerprint: they hash as absent rather than failing.
type Calculator struct {
	Root    string
	Files   []string
	Workers int
}

// Digest hashes every file concurrently and folds the results in name order
// into one upper-case hex string.
func (c Calculator) Digest(ctx context.Context) (string, error) {
	files := slices.Clone(c.Files)
	slices.Sort(files)
	files = slices.Compact(files)

	sums := make([][]byte, len(files))
	g, ctx := errgroup.WithContext(ctx)
	workers := c.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	g.SetLimit(workers)
	for i, name := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sum, err := hashFile(filepath.Join(c.Root, filepath.FromSlash(name)))
			if err != nil {
				return fmt.Errorf("hashing %s: %w", name, err)
			}
			sums[i] = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	total, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	for i, name := range files {
		io.WriteString(total, strings.ToLower(name))
		total.Write([]byte{0})
		total.Write(sums[i])
	}
	return strings.ToUpper(hex.EncodeToString(total.Sum(nil))), nil
}

// hashFile returns nil for a file that does not exist.
func hashFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
