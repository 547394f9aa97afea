// Command filestore-client is a reference line-protocol client: it opens
// one TCP connection and runs a single command (register, upload,
// download, delete, list) against a filestore-server, printing the
// server's reply. Every command except register first sends LOGIN. It exists to exercise internal/protocol's wire codec
// from the far end and to give operators a way to poke a running server
// without writing raw socket code.
package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/nabbar/filestore/internal/protocol"
)

var (
	addr     string
	username string
	password string
	dialTO   time.Duration
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "filestore-client",
		Short:        "Talk to a filestore-server over its line protocol",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:8080", "server address")
	root.PersistentFlags().StringVar(&username, "user", "", "username")
	root.PersistentFlags().StringVar(&password, "pass", "", "password")
	root.PersistentFlags().DurationVar(&dialTO, "timeout", 10*time.Second, "dial timeout")

	root.AddCommand(newRegisterCommand())
	root.AddCommand(newUploadCommand())
	root.AddCommand(newDownloadCommand())
	root.AddCommand(newDeleteCommand())
	root.AddCommand(newListCommand())
	return root
}

func dial() (*protocol.Conn, net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTO)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c := protocol.NewConn(conn, conn)
	// Discard the WELCOME banner; every command below authenticates fresh.
	if _, err := c.ReadLine(); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("read welcome: %w", err)
	}
	return c, conn, nil
}

func login(c *protocol.Conn) error {
	if username == "" || password == "" {
		return fmt.Errorf("--user and --pass are required")
	}
	if err := c.WriteLine(fmt.Sprintf("LOGIN %s %s", username, password)); err != nil {
		return err
	}
	reply, err := c.ReadLine()
	if err != nil {
		return err
	}
	if !isOK(reply) {
		return fmt.Errorf("login failed: %s", reply)
	}
	return nil
}

func isOK(reply string) bool {
	return len(reply) >= 3 && reply[:3] == "OK:"
}

func newRegisterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Register a new account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" || password == "" {
				return fmt.Errorf("--user and --pass are required")
			}
			c, conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := c.WriteLine(fmt.Sprintf("REGISTER %s %s", username, password)); err != nil {
				return err
			}
			reply, err := c.ReadLine()
			if err != nil {
				return err
			}
			printReply(reply)
			return nil
		},
	}
}

func newUploadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <local-path> [remote-name]",
		Short: "Upload a local file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			localPath := args[0]
			remoteName := filepath.Base(localPath)
			if len(args) == 2 {
				remoteName = args[1]
			}

			f, err := os.Open(localPath)
			if err != nil {
				return err
			}
			defer f.Close()
			st, err := f.Stat()
			if err != nil {
				return err
			}

			c, conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := login(c); err != nil {
				return err
			}

			if err := c.WriteLine("UPLOAD " + remoteName); err != nil {
				return err
			}
			reply, err := c.ReadLine()
			if err != nil {
				return err
			}
			if !isReady(reply) {
				printReply(reply)
				return nil
			}

			if err := c.WriteLine(fmt.Sprintf("SIZE %d", st.Size())); err != nil {
				return err
			}
			reply, err = c.ReadLine()
			if err != nil {
				return err
			}
			if !isOK(reply) {
				printReply(reply)
				return nil
			}

			progress := mpb.New(mpb.WithOutput(os.Stderr))
			bar := progress.AddBar(st.Size(),
				mpb.PrependDecorators(decor.Name(remoteName)),
				mpb.AppendDecorators(decor.CountersKibiByte("% .2f / % .2f")),
			)
			reader := bar.ProxyReader(f)
			defer reader.Close()

			// Body bytes are written straight to the socket, bypassing
			// protocol.Conn: its buffering only matters on the read side
			// (ReadLine may look ahead), so a plain io.Copy is safe here.
			if _, err := io.Copy(conn, reader); err != nil {
				return fmt.Errorf("upload body: %w", err)
			}
			progress.Wait()

			reply, err = c.ReadLine()
			if err != nil {
				return err
			}
			printReply(reply)
			return nil
		},
	}
}

func newDownloadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "download <remote-name> <local-path>",
		Short: "Download a remote file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			remoteName, localPath := args[0], args[1]

			c, conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := login(c); err != nil {
				return err
			}

			if err := c.WriteLine("DOWNLOAD " + remoteName); err != nil {
				return err
			}
			reply, err := c.ReadLine()
			if err != nil {
				return err
			}
			size, ok := parseSizeReply(reply)
			if !ok {
				printReply(reply)
				return nil
			}

			out, err := os.Create(localPath)
			if err != nil {
				return err
			}
			defer out.Close()

			progress := mpb.New(mpb.WithOutput(os.Stderr))
			bar := progress.AddBar(size,
				mpb.PrependDecorators(decor.Name(remoteName)),
				mpb.AppendDecorators(decor.CountersKibiByte("% .2f / % .2f")),
			)
			writer := bar.ProxyWriter(out)
			defer writer.Close()

			if err := c.CopyExact(writer, size); err != nil {
				return err
			}
			progress.Wait()

			fmt.Println(color.GreenString("downloaded %d bytes to %s", size, localPath))
			return nil
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <remote-name>",
		Short: "Delete a remote file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := login(c); err != nil {
				return err
			}

			if err := c.WriteLine("DELETE " + args[0]); err != nil {
				return err
			}
			reply, err := c.ReadLine()
			if err != nil {
				return err
			}
			printReply(reply)
			return nil
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List remote files and quota usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := login(c); err != nil {
				return err
			}

			if err := c.WriteLine("LIST"); err != nil {
				return err
			}
			for {
				line, err := c.ReadLine()
				if err != nil {
					return err
				}
				if line == "" {
					return nil
				}
				fmt.Println(line)
			}
		},
	}
}

func isReady(reply string) bool {
	return len(reply) >= 6 && reply[:6] == "READY:"
}

func parseSizeReply(reply string) (int64, bool) {
	var n int64
	if _, err := fmt.Sscanf(reply, "SIZE: %d", &n); err != nil {
		return 0, false
	}
	return n, true
}

func printReply(reply string) {
	if isOK(reply) || isReady(reply) {
		fmt.Println(color.GreenString(reply))
		return
	}
	fmt.Println(color.RedString(reply))
}
