// Command ext2view is a thin subcommand dispatcher over the ext2 package: it
// parses arguments, builds a force Policy from the FORCE environment variable,
// and translates package errors into the exit-code contract of §7/§8 of the
// design. None of the on-disk interpretation lives here.
package main

import (
	"fmt"
	"os"
	"path"

	"github.com/sirupsen/logrus"

	"github.com/go-ext2/ext2view/backend/file"
	"github.com/go-ext2/ext2view/ext2"
)

const usage = `ext2view: read ext2 disk images without mounting them
USAGE:
	ext2view <ACTION> <ACTION ARGUMENTS>

ACTIONS:
	help                                       - display this message
	query <IMAGE> <PATH TO DIRECTORY>          - list a directory's entries
	get <IMAGE> <PATH TO FILE>                 - write a file's bytes to ./<basename>
	add <IMAGE> <FROM> <TO>                    - not implemented
	mkdir <IMAGE> <PATH>                       - not implemented
	remove <IMAGE> <PATH>                      - not implemented
`

var log = logrus.New()

func main() {
	verbose := false
	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "-v" || args[0] == "-verbose") {
		verbose = true
		args = args[1:]
	}
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}

	if len(args) < 1 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	policy := forcePolicy()

	action := args[0]
	rest := args[1:]

	var err error
	switch action {
	case "help":
		fmt.Print(usage)
		return
	case "query":
		err = runQuery(rest, policy)
	case "get":
		err = runGet(rest, policy)
	case "add", "mkdir", "remove":
		err = ext2NotImplemented(action)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	if err != nil {
		log.WithFields(logrus.Fields{
			"action": action,
			"args":   rest,
		}).Error(err)
		os.Exit(1)
	}
}

// forcePolicy reads FORCE from the environment, per §6: "1", "true", or
// "TRUE" bypass forcible validation errors.
func forcePolicy() ext2.Policy {
	switch os.Getenv("FORCE") {
	case "1", "true", "TRUE":
		return ext2.ForcedPolicy()
	default:
		return ext2.StrictPolicy()
	}
}

func ext2NotImplemented(action string) error {
	return fmt.Errorf("%s: declared but not implemented (non-goal, see design notes)", action)
}

func openImage(imagePath string, policy ext2.Policy) (*ext2.Reader, error) {
	f, err := file.OpenFromPath(imagePath, true)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", imagePath, err)
	}
	r, err := ext2.Open(f, policy)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func runQuery(args []string, policy ext2.Policy) error {
	if len(args) != 2 {
		return fmt.Errorf("USAGE: ext2view query <IMAGE> <PATH TO DIRECTORY>")
	}
	imagePath, dirPath := args[0], args[1]

	r, err := openImage(imagePath, policy)
	if err != nil {
		return err
	}
	defer closeImage(r, imagePath)

	entries, err := r.ListDirectory(dirPath)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("DirEntry: %s\n", e.Name)
	}
	return nil
}

func runGet(args []string, policy ext2.Policy) error {
	if len(args) != 2 {
		return fmt.Errorf("USAGE: ext2view get <IMAGE> <PATH TO FILE>")
	}
	imagePath, filePath := args[0], args[1]

	r, err := openImage(imagePath, policy)
	if err != nil {
		return err
	}
	defer closeImage(r, imagePath)

	out, err := os.Create(path.Base(filePath))
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer out.Close()

	n, err := r.WriteFileTo(out, filePath)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"bytes": n,
		"file":  filePath,
	}).Debug("wrote file")
	return nil
}

// closeImage logs but does not fail the command on a close error, matching
// §7: only the operation itself is fatal.
func closeImage(r *ext2.Reader, imagePath string) {
	if err := r.Close(); err != nil {
		log.WithField("image", imagePath).WithError(err).Warn("closing image")
	}
}
