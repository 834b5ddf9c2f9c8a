// luminaguard-imgprep is the offline base-image toolchain: pull an OCI
// image into a rootfs tree, strip it down to the sandbox-minimal set of
// utilities, verify the result, and compress finished ext4 images for
// storage. It never runs while the daemon does.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/luminaguard/luminaguard/internal/image"
	"github.com/luminaguard/luminaguard/internal/rootfs"
	"github.com/luminaguard/luminaguard/internal/version"
)

func main() {
	log.SetFlags(0)

	root := &cobra.Command{
		Use:           "luminaguard-imgprep",
		Short:         "Offline base-image preparation for the luminaguard sandbox",
		Version:       version.Version(),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(
		newPullCommand(),
		newStripCommand(),
		newVerifyCommand(),
		newCompressCommand(),
	)

	if err := root.Execute(); err != nil {
		log.Fatalf("imgprep: %v", err)
	}
}

func newPullCommand() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "pull <image-ref>",
		Short: "Pull an OCI image and unpack it into a rootfs tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := image.Pull(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			log.Printf("pulled %s (%s)", args[0], res.Digest)

			if err := os.MkdirAll(outDir, 0755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			if err := image.Unpack(res.Image, outDir); err != nil {
				return err
			}
			log.Printf("unpacked into %s", outDir)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "output", "o", "rootfs", "directory to unpack into")
	return cmd
}

func newStripCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "strip <rootfs-dir>",
		Short: "Remove package managers, compilers, and interpreters from a rootfs tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootfs.RemoveUnusedUtilities(args[0]); err != nil {
				return err
			}
			if !rootfs.VerifyMinimal(args[0]) {
				return fmt.Errorf("%s is missing required utilities after strip", args[0])
			}
			log.Printf("stripped %s", args[0])
			return nil
		},
	}
}

func newVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <rootfs-dir>",
		Short: "Check that a rootfs tree has the required minimal utilities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !rootfs.VerifyMinimal(args[0]) {
				return fmt.Errorf("%s fails minimal verification", args[0])
			}
			log.Printf("%s ok", args[0])
			return nil
		},
	}
}

func newCompressCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compress <image.ext4>",
		Short: "Compress a base image with zstd for storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := rootfs.CompressBase(args[0])
			if err != nil {
				return err
			}
			log.Printf("wrote %s", out)
			return nil
		},
	}
}
