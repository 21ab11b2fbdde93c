package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	metagrpc "github.com/nemanja-m/mrfs/internal/metadata/api/grpc"
	"github.com/nemanja-m/mrfs/internal/shared/config"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
	storagegrpc "github.com/nemanja-m/mrfs/internal/storage/api/grpc"
	"github.com/nemanja-m/mrfs/pkg/dfs"
)

const usage = `Usage: mrfs [-config path] <command> [args]

Commands:
  mkdir <path>                 create a directory and its parents
  put [-r n] <local> <path>    upload a local file
  get <path> <local>           download a file
  cat <path>                   print a file
  ls [path]                    list a directory
  stat <path>                  show file or directory details
  locate <path>                show block replicas of a file
  mv <src> <dst>               rename a file or directory
  rm [-r] <path>               delete a file or directory
`

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mrfs: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging)

	meta, err := metagrpc.NewClient(cfg.Metadata)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mrfs: %v\n", err)
		os.Exit(1)
	}
	blocks := storagegrpc.NewDialer(cfg.Metadata)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	cli := &cli{fs: dfs.New(meta, blocks, dfs.ConfigFrom(*cfg), logger), out: os.Stdout}
	err = cli.run(ctx, flag.Arg(0), flag.Args()[1:])

	stop()
	blocks.Close()
	meta.Close()

	if err != nil {
		fmt.Fprintf(os.Stderr, "mrfs %s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
}

type cli struct {
	fs  *dfs.FileSystem
	out io.Writer
}

func (c *cli) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "mkdir":
		path, err := oneArg(args)
		if err != nil {
			return err
		}
		return c.fs.Mkdir(ctx, path)

	case "put":
		flags := flag.NewFlagSet("put", flag.ContinueOnError)
		replication := flags.Int("r", 0, "replication factor")
		if err := flags.Parse(args); err != nil {
			return err
		}
		if flags.NArg() != 2 {
			return fmt.Errorf("expected <local> <path>")
		}
		var opts []dfs.CreateOption
		if *replication > 0 {
			opts = append(opts, dfs.WithReplication(*replication))
		}
		return c.fs.CopyFromLocal(ctx, flags.Arg(0), flags.Arg(1), opts...)

	case "get":
		if len(args) != 2 {
			return fmt.Errorf("expected <path> <local>")
		}
		return c.fs.CopyToLocal(ctx, args[0], args[1])

	case "cat":
		path, err := oneArg(args)
		if err != nil {
			return err
		}
		r, err := c.fs.Open(ctx, path)
		if err != nil {
			return err
		}
		defer r.Close()
		_, err = io.Copy(c.out, r)
		return err

	case "ls":
		path := "/"
		if len(args) > 0 {
			path = args[0]
		}
		return c.list(ctx, path)

	case "stat":
		path, err := oneArg(args)
		if err != nil {
			return err
		}
		info, err := c.fs.Stat(ctx, path)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "path: %s\ndir: %t\nlength: %d\nreplication: %d\nblock size: %d\nowner: %s\ncreated: %s\n",
			info.Path, info.IsDir, info.Length, info.Replication, info.BlockSize, info.Owner, info.CreatedAt.Format(time.RFC3339))
		return nil

	case "locate":
		path, err := oneArg(args)
		if err != nil {
			return err
		}
		return c.locate(ctx, path)

	case "mv":
		if len(args) != 2 {
			return fmt.Errorf("expected <src> <dst>")
		}
		return c.fs.Rename(ctx, args[0], args[1])

	case "rm":
		flags := flag.NewFlagSet("rm", flag.ContinueOnError)
		recursive := flags.Bool("r", false, "delete directories recursively")
		if err := flags.Parse(args); err != nil {
			return err
		}
		path, err := oneArg(flags.Args())
		if err != nil {
			return err
		}
		return c.fs.Delete(ctx, path, *recursive)

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func (c *cli) list(ctx context.Context, path string) error {
	entries, err := c.fs.List(ctx, path)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		kind := "-"
		if e.IsDir {
			kind = "d"
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", kind, e.Replication, e.Length, e.CreatedAt.Format(time.DateTime), e.Name)
	}
	return w.Flush()
}

func (c *cli) locate(ctx context.Context, path string) error {
	file, err := c.fs.Locate(ctx, path)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BLOCK\tOFFSET\tSIZE\tREPLICAS")
	for _, b := range file.Blocks {
		nodes := make([]string, 0, len(b.Replicas))
		for _, r := range b.Replicas {
			nodes = append(nodes, string(r.Node))
		}
		replicas := strings.Join(nodes, ",")
		if b.Lost {
			replicas = "LOST"
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", b.ID, b.Offset, b.Size, replicas)
	}
	return w.Flush()
}

func oneArg(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("expected exactly one path")
	}
	return args[0], nil
}
