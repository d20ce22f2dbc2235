// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

// vtcmucmd is a reference client for the storage unit runtime: it
// provisions one LUN, wires it to either an in-memory ramdisk or a
// direct I/O backed file, runs the dispatcher pool until interrupted,
// and unprovisions on the way out.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/nixomose/vtcmu/vtcmucmd/storage"
	"github.com/nixomose/vtcmu/vtcmulib"
	"github.com/nixomose/vtcmu/vtcmulib/vtcmuinterfaces"
	uuid "github.com/satori/go.uuid"
	"github.com/spf13/cobra"
)

const defaultBlockLength = 4096

func main() {
	var (
		flagBackingFile string
		flagSizeBytes   uint64
		flagRawdisk     bool
		flagThreads     int
		flagControlPath string
	)

	var rootCmd = &cobra.Command{
		Use:   "vtcmucmd",
		Short: "provision and serve one storage unit LUN",
		RunE: func(cmd *cobra.Command, args []string) error {
			var log = tools.New_Nixomosetools_logger(tools.DEBUG)
			return run(log, flagBackingFile, flagSizeBytes, flagRawdisk, flagThreads, flagControlPath)
		},
	}

	rootCmd.Flags().StringVarP(&flagBackingFile, "backing-file", "b", "", "backing file for rawdisk mode (ignored for ramdisk)")
	rootCmd.Flags().Uint64VarP(&flagSizeBytes, "size", "s", 1<<30, "device size in bytes, must be a multiple of the block length")
	rootCmd.Flags().BoolVarP(&flagRawdisk, "rawdisk", "r", false, "back the unit with backing-file via direct I/O instead of an in-memory ramdisk")
	rootCmd.Flags().IntVarP(&flagThreads, "threads", "t", 0, "dispatcher worker count, 0 means one per available CPU")
	rootCmd.Flags().StringVarP(&flagControlPath, "control-device", "c", vtcmulib.CONTROL_DEVICE_NAME, "control device path")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(log *tools.Nixomosetools_logger, backingFile string, sizeBytes uint64, rawdisk bool, threads int, controlPath string) error {
	var blockLength = uint32(defaultBlockLength)
	var blockCount = sizeBytes / uint64(blockLength)
	if blockCount == 0 {
		return fmt.Errorf("size %d is smaller than one block (%d bytes)", sizeBytes, blockLength)
	}

	var params = vtcmulib.NewStorageUnitParams(uuid.NewV4(), blockCount, blockLength)

	var mechanism vtcmuinterfaces.StorageMechanism
	if rawdisk {
		if backingFile == "" {
			return fmt.Errorf("rawdisk mode requires --backing-file")
		}
		var ret, disk = storage.NewRawdiskstorage(log, backingFile, blockLength, blockCount*uint64(blockLength))
		if ret != nil {
			return fmt.Errorf("unable to open backing file: %s", ret.Get_errmsg())
		}
		defer disk.Close()
		mechanism = disk
	} else {
		mechanism = storage.NewRamdiskstorage(log, blockLength)
	}

	var iface = handlersForMechanism(mechanism)

	var transport = vtcmulib.NewKmodTransport(log)

	var createRet, unit = vtcmulib.Create(log, transport, controlPath, params, iface)
	if createRet != nil {
		return fmt.Errorf("unable to create storage unit: %s", createRet.Get_errmsg())
	}

	log.Info("provisioned storage unit ", unit.Btl(), " with ", blockCount, " blocks of ", blockLength, " bytes")

	unit.StartDispatcher(threads)

	var signalChannel = make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalChannel
		log.Info("received shutdown signal, unprovisioning ", unit.Btl())
		unit.Shutdown()
	}()

	unit.WaitDispatcher()

	if dispatchErr := unit.GetDispatcherError(); dispatchErr != nil {
		log.Info("dispatcher for ", unit.Btl(), " stopped: ", dispatchErr.Get_errmsg())
	}
	return nil
}
