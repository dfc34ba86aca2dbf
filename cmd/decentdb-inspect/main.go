// Command decentdb-inspect reads a decentdb database and its WAL sibling
// directly off disk, without a live Pager/Wal handle, for offline
// diagnosis of a file a running process does not currently have open.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sphildreth/decentdb/internal/storage"
	"github.com/sphildreth/decentdb/internal/storage/pager"
	"github.com/sphildreth/decentdb/internal/storage/wal"
	"github.com/sphildreth/decentdb/internal/vfs"
)

func newRootCmd() *cobra.Command {
	var debug bool
	root := &cobra.Command{
		Use:   "decentdb-inspect",
		Short: "inspect a decentdb database file and its WAL sibling",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	root.AddCommand(newHeaderCmd(), newPagesCmd(), newWalCmd(), newCheckpointCmd())
	return root
}

func newHeaderCmd() *cobra.Command {
	var pageSize int
	cmd := &cobra.Command{
		Use:   "header <db-file>",
		Short: "print the main file's header page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := readHeaderPage(args[0], pageSize)
			if err != nil {
				return err
			}
			h, err := storage.DecodeHeader(buf)
			if err != nil {
				return err
			}
			fmt.Printf("format version:    %d\n", h.FormatVersion)
			fmt.Printf("page size:         %d\n", h.PageSize)
			fmt.Printf("schema cookie:     %d\n", h.SchemaCookie)
			fmt.Printf("root catalog:      %d\n", h.RootCatalog)
			fmt.Printf("root freelist:     %d\n", h.RootFreelist)
			fmt.Printf("freelist head:     %d\n", h.FreelistHead)
			fmt.Printf("freelist count:    %d\n", h.FreelistCount)
			fmt.Printf("last checkpoint:   %d\n", h.LastCheckpointLSN)
			return nil
		},
	}
	cmd.Flags().IntVar(&pageSize, "page-size", storage.DefaultPageSize, "page size, in bytes, if the header magic cannot be trusted yet")
	return cmd
}

func readHeaderPage(path string, pageSize int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, pageSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

func newPagesCmd() *cobra.Command {
	var pageSize int
	var verify bool
	cmd := &cobra.Command{
		Use:   "pages <db-file>",
		Short: "summarize every page in the file, or verify page-type tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if verify {
				issues, err := pager.VerifyDB(path, pageSize)
				if err != nil {
					return err
				}
				if len(issues) == 0 {
					fmt.Println("no issues found")
					return nil
				}
				for _, issue := range issues {
					fmt.Println(issue)
				}
				return fmt.Errorf("%d issue(s) found", len(issues))
			}

			fi, err := os.Stat(path)
			if err != nil {
				return err
			}
			total := fi.Size() / int64(pageSize)
			for id := int64(1); id < total; id++ {
				info, err := pager.InspectPage(path, storage.PageID(id), pageSize)
				if err != nil {
					fmt.Printf("page %d: error: %v\n", id, err)
					continue
				}
				printPageInfo(info)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&pageSize, "page-size", storage.DefaultPageSize, "page size, in bytes")
	cmd.Flags().BoolVar(&verify, "verify", false, "only report unknown page-type tags instead of printing every page")
	return cmd
}

func printPageInfo(info *pager.PageInfo) {
	switch info.Type {
	case storage.PageTypeLeaf, storage.PageTypeInternal:
		fmt.Printf("page %d: %s count=%d fourthField=%d\n", info.ID, info.Type, info.Count, info.FourthField)
	case storage.PageTypeOverflow:
		fmt.Printf("page %d: %s bytesInPage=%d next=%d\n", info.ID, info.Type, info.BytesInPage, info.NextPage)
	case storage.PageTypeFreelist:
		fmt.Printf("page %d: %s entryCount=%d next=%d\n", info.ID, info.Type, info.EntryCount, info.NextFree)
	default:
		fmt.Printf("page %d: %s\n", info.ID, info.Type)
	}
}

func newWalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wal <wal-file>",
		Short: "summarize a WAL file's header and frame chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := wal.Inspect(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("format version:  %d\n", s.FormatVersion)
			fmt.Printf("page size:       %d\n", s.PageSize)
			fmt.Printf("salt:            %016x\n", s.Salt)
			fmt.Printf("file size:       %d\n", s.FileSize)
			fmt.Printf("tip LSN:         %d\n", s.TipLSN)
			fmt.Printf("good offset:     %d\n", s.GoodOffset)
			fmt.Printf("page frames:     %d\n", s.PageFrames)
			fmt.Printf("commit frames:   %d\n", s.CommitFrames)
			fmt.Printf("torn tail:       %v\n", s.TornTail)
			return nil
		},
	}
	return cmd
}

func newCheckpointCmd() *cobra.Command {
	var cachePages int
	cmd := &cobra.Command{
		Use:   "checkpoint <db-file>",
		Short: "apply the WAL sibling's committed pages into the main file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			v := vfs.New()
			p, err := pager.Open(v, path, pager.Config{CachePages: cachePages})
			if err != nil {
				return err
			}
			defer p.ClosePager()

			w, err := wal.New(v, path+"-wal", uint32(p.PageSize()))
			if err != nil {
				return err
			}
			defer w.Close()

			horizon, err := w.Checkpoint(p)
			if err != nil {
				return err
			}
			fmt.Printf("checkpointed up to LSN %d\n", horizon)
			return nil
		},
	}
	cmd.Flags().IntVar(&cachePages, "cache-pages", 256, "buffer pool capacity while checkpointing")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
