// Command aosctl is the host-side tool for preparing and inspecting disk
// images the kernel core mounts: formatting a fresh FAT32 image and
// listing/extracting files from one without booting the kernel.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/aos-project/aos-core/blockdev"
	"github.com/aos-project/aos-core/vfs"
	"github.com/aos-project/aos-core/vfs/fat32"
)

func main() {
	app := cli.App{
		Usage: "Prepare and inspect aOS disk images",
		Commands: []*cli.Command{
			{
				Name:      "format",
				Usage:     "Format a file as a fresh FAT32 image",
				Action:    formatImage,
				ArgsUsage: "IMAGE_FILE [SIZE_BYTES]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "geometry",
						Usage: "use a predefined disk geometry's size instead of SIZE_BYTES, e.g. 1.44M",
					},
				},
			},
			{
				Name:      "ls",
				Usage:     "List the contents of a directory in a FAT32 image",
				Action:    listDirectory,
				ArgsUsage: "IMAGE_FILE [PATH]",
			},
			{
				Name:      "cat",
				Usage:     "Print the contents of a file in a FAT32 image",
				Action:    catFile,
				ArgsUsage: "IMAGE_FILE PATH",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func openImage(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDONLY, 0)
}

func formatImage(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("usage: aosctl format [--geometry=SLUG] IMAGE_FILE [SIZE_BYTES]", 1)
	}
	imagePath := c.Args().Get(0)

	var sizeBytes int64
	if slug := c.String("geometry"); slug != "" {
		geometry, err := blockdev.GetPredefinedDiskGeometry(slug)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		sizeBytes = geometry.TotalSizeBytes()
	} else {
		if c.NArg() < 2 {
			return cli.Exit("usage: aosctl format [--geometry=SLUG] IMAGE_FILE [SIZE_BYTES]", 1)
		}
		if _, err := fmt.Sscanf(c.Args().Get(1), "%d", &sizeBytes); err != nil {
			return cli.Exit(fmt.Sprintf("bad size argument: %s", err), 1)
		}
	}

	file, err := os.Create(imagePath)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := file.Truncate(sizeBytes); err != nil {
		return err
	}

	totalSectors := uint64(sizeBytes) / blockdev.SectorSize
	dev := blockdev.NewFileBlockDevice(file, totalSectors)
	return fat32.FormatImage(dev, fat32.DefaultFormatOptions())
}

func mountImage(imagePath string) (*vfs.Dispatcher, *os.File, error) {
	file, err := openImage(imagePath)
	if err != nil {
		return nil, nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	totalSectors := uint64(info.Size()) / blockdev.SectorSize
	dev := blockdev.NewFileBlockDevice(file, totalSectors)

	fs := fat32.NewDriver(dev)
	mounts := vfs.NewMountTable()
	if _, err := mounts.Mount("/", fs, "", 0); err != nil {
		file.Close()
		return nil, nil, err
	}

	return vfs.NewDispatcher(mounts), file, nil
}

type cliCaller struct{}

func (cliCaller) CallerOwnerID() uint32            { return 0 }
func (cliCaller) CallerOwnerClass() vfs.OwnerClass { return vfs.OwnerRoot }

func listDirectory(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("usage: aosctl ls IMAGE_FILE [PATH]", 1)
	}
	path := "/"
	if c.NArg() >= 2 {
		path = c.Args().Get(1)
	}

	d, file, err := mountImage(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer file.Close()

	fd, err := d.Open(cliCaller{}, path, vfs.ORdOnly|vfs.ODirectory)
	if err != nil {
		return err
	}
	defer d.Close(fd)

	for {
		name, err := d.Readdir(cliCaller{}, fd)
		if err != nil {
			break
		}
		fmt.Println(name)
	}
	return nil
}

func catFile(c *cli.Context) error {
	if c.NArg() < 2 {
		return cli.Exit("usage: aosctl cat IMAGE_FILE PATH", 1)
	}

	d, file, err := mountImage(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer file.Close()

	fd, err := d.Open(cliCaller{}, c.Args().Get(1), vfs.ORdOnly)
	if err != nil {
		return err
	}
	defer d.Close(fd)

	buf := make([]byte, 4096)
	for {
		n, err := d.Read(cliCaller{}, fd, buf)
		if n > 0 {
			os.Stdout.Write(buf[:n])
		}
		if n == 0 || err != nil {
			break
		}
	}
	return nil
}
