// Copyright 2024 TxFS Authors
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

package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"txfs/internal/action"
	"txfs/internal/daemon"
)

var mvCmd = &cobra.Command{
	Use:   "mv <source>... <destination>",
	Short: "Move files or folders",
	Long: `Moves one or more entries. Existing destinations are never overwritten.

With several sources, or when the destination is an existing folder, each
source is moved into it under its own name. Several moves run as one batch
and are undone together.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransfer(args, func(from, to string) action.Action { return action.NewMove(from, to) })
	},
}

var cpCmd = &cobra.Command{
	Use:   "cp <source>... <destination>",
	Short: "Copy files or folders",
	Long: `Copies one or more entries recursively. Undo removes the copies.

Symbolic links inside a copied folder are rejected.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransfer(args, func(from, to string) action.Action { return action.NewCopy(from, to) })
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <path> <new-name>",
	Short: "Rename an entry within its folder",
	Args:  cobra.ExactArgs(2),
	RunE:  runRename,
}

var rmCmd = &cobra.Command{
	Use:     "rm <path>...",
	Aliases: []string{"delete"},
	Short:   "Delete files or folders",
	Long: `Moves entries into the backup area. Undo moves them back.

Backups older than backup_max_age are removed by the daemon's sweep.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRm,
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>...",
	Short: "Create folders",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMkdir,
}

var createCmd = &cobra.Command{
	Use:   "create <path>",
	Short: "Create a file",
	Long: `Creates a new file. With --stdin the content is read from standard input,
otherwise the file is empty. Undo moves the file into the backup area.`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

var hideCmd = &cobra.Command{
	Use:   "hide <path>...",
	Short: "Set the hidden attribute",
	Long:  `Sets the hidden attribute on macOS and Windows. Other platforms report unsupported.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetHidden(args, true)
	},
}

var unhideCmd = &cobra.Command{
	Use:   "unhide <path>...",
	Short: "Clear the hidden attribute",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetHidden(args, false)
	},
}

var chmodCmd = &cobra.Command{
	Use:   "chmod <path>...",
	Short: "Change permissions of every path or of none",
	Long: `Changes permissions on all given paths. If any change fails the ones
already applied are reverted. Permission changes are not part of history.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChmod,
}

var mkdirParents bool
var createStdin bool
var chmodReadOnly bool
var chmodWritable bool
var chmodMode string

func init() {
	mkdirCmd.Flags().BoolVarP(&mkdirParents, "parents", "p", false, "Create missing parent folders")
	createCmd.Flags().BoolVar(&createStdin, "stdin", false, "Read file content from standard input")
	chmodCmd.Flags().BoolVar(&chmodReadOnly, "readonly", false, "Set the read-only flag")
	chmodCmd.Flags().BoolVar(&chmodWritable, "writable", false, "Clear the read-only flag")
	chmodCmd.Flags().StringVar(&chmodMode, "mode", "", "Octal POSIX mode, e.g. 0644")
	chmodCmd.MarkFlagsMutuallyExclusive("readonly", "writable")

	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(cpCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(hideCmd)
	rootCmd.AddCommand(unhideCmd)
	rootCmd.AddCommand(chmodCmd)
}

// transferTargets pairs every source with its destination. A single source
// goes to dst as given unless dst is an existing folder.
func transferTargets(sources []string, dst string) ([][2]string, error) {
	into := len(sources) > 1
	if info, err := os.Lstat(dst); err == nil && info.IsDir() {
		into = true
	} else if into {
		return nil, fmt.Errorf("target %s is not a folder", dst)
	}

	pairs := make([][2]string, 0, len(sources))
	for _, src := range sources {
		to := dst
		if into {
			to = filepath.Join(dst, filepath.Base(src))
		}
		pairs = append(pairs, [2]string{src, to})
	}
	return pairs, nil
}

func runTransfer(args []string, build func(from, to string) action.Action) error {
	paths, err := absPaths(args)
	if err != nil {
		return err
	}
	pairs, err := transferTargets(paths[:len(paths)-1], paths[len(paths)-1])
	if err != nil {
		return err
	}

	actions := make([]action.Action, 0, len(pairs))
	for _, p := range pairs {
		actions = append(actions, build(p[0], p[1]))
	}
	return applyActions(actions)
}

func runRename(cmd *cobra.Command, args []string) error {
	newName := args[1]
	if newName == "" || strings.ContainsRune(newName, filepath.Separator) || newName == "." || newName == ".." {
		return fmt.Errorf("invalid name %q", newName)
	}
	from, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	to := filepath.Join(filepath.Dir(from), newName)
	return applyActions([]action.Action{action.NewRename(from, to)})
}

func runRm(cmd *cobra.Command, args []string) error {
	paths, err := absPaths(args)
	if err != nil {
		return err
	}

	actions := make([]action.Action, 0, len(paths))
	for _, path := range paths {
		bak, err := backupPath(path)
		if err != nil {
			return err
		}
		actions = append(actions, action.NewDelete(path, bak))
	}
	return applyActions(actions)
}

func runMkdir(cmd *cobra.Command, args []string) error {
	paths, err := absPaths(args)
	if err != nil {
		return err
	}

	if mkdirParents {
		resp, err := withDaemon(func(c *daemon.Client) (*daemon.Response, error) {
			return c.MkdirAll(paths)
		})
		if err != nil {
			return fmt.Errorf("mkdir request failed: %w", err)
		}
		return printResponse(resp)
	}

	actions := make([]action.Action, 0, len(paths))
	for _, path := range paths {
		actions = append(actions, action.NewCreateFolder(path))
	}
	return applyActions(actions)
}

func runCreate(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	// Stage the content in the backup area, then move it into place.
	bak, err := backupPath(path)
	if err != nil {
		return err
	}
	if err := stageFile(bak, cmd.InOrStdin()); err != nil {
		return fmt.Errorf("failed to stage content: %w", err)
	}
	return applyActions([]action.Action{action.NewCreate(path, bak)})
}

func stageFile(path string, stdin io.Reader) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if createStdin {
		if _, err := io.Copy(f, stdin); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

func runSetHidden(args []string, hidden bool) error {
	paths, err := absPaths(args)
	if err != nil {
		return err
	}
	actions := make([]action.Action, 0, len(paths))
	for _, path := range paths {
		actions = append(actions, action.NewSetHidden(path, hidden))
	}
	return applyActions(actions)
}

func runChmod(cmd *cobra.Command, args []string) error {
	if !chmodReadOnly && !chmodWritable && chmodMode == "" {
		return fmt.Errorf("one of --readonly, --writable or --mode is required")
	}
	paths, err := absPaths(args)
	if err != nil {
		return err
	}

	var readOnly *bool
	if chmodReadOnly || chmodWritable {
		readOnly = &chmodReadOnly
	}

	resp, err := withDaemon(func(c *daemon.Client) (*daemon.Response, error) {
		return c.Chmod(paths, readOnly, chmodMode)
	})
	if err != nil {
		return fmt.Errorf("chmod request failed: %w", err)
	}
	return printResponse(resp)
}

// applyActions sends one action, or a batch when there are several.
func applyActions(actions []action.Action) error {
	var a action.Action = action.NewBatch(actions...)
	if len(actions) == 1 {
		a = actions[0]
	}

	resp, err := withDaemon(func(c *daemon.Client) (*daemon.Response, error) {
		return c.Apply(a)
	})
	if err != nil {
		return fmt.Errorf("apply request failed: %w", err)
	}
	return printResponse(resp)
}

func backupPath(original string) (string, error) {
	return withDaemon(func(c *daemon.Client) (string, error) {
		return c.BackupPath(original)
	})
}

func printResponse(resp *daemon.Response) error {
	if err := responseError(resp); err != nil {
		return err
	}
	fmt.Println(resp.Message)
	return nil
}
