// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"git.arvados.org/arvados.git/lib/cmd"
	"git.arvados.org/arvados.git/sdk/go/arvados"
	"git.arvados.org/arvados.git/sdk/go/arvadosclient"
	"git.arvados.org/arvados.git/sdk/go/keepclient"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

const runtimeImage = "asaph-runtime"

var refreshInterval = 5 * time.Second

// arvadosContainerRunner runs an asaph subcommand in an Arvados
// container and waits for it to finish.
type arvadosContainerRunner struct {
	Client      *arvados.Client
	Name        string
	OutputName  string
	ProjectUUID string
	VCPUs       int
	RAM         int64
	Prog        string // if empty, run /proc/self/exe
	Args        []string
	Mounts      map[string]map[string]interface{}
	Priority    int
	KeepCache   int // cache buffers per VCPU (0 for default)
	Preemptible bool
}

// containerFlags are the command line options shared by commands that
// can run in a container.
type containerFlags struct {
	local       bool
	projectUUID string
	priority    int
	preemptible bool
	vcpus       int
	ram         int64
}

func (cf *containerFlags) Flags(flags *flag.FlagSet, vcpus int, ram int64) {
	flags.BoolVar(&cf.local, "local", false, "run on local host (default: run in an arvados container)")
	flags.StringVar(&cf.projectUUID, "project", "", "project `UUID` for output data")
	flags.IntVar(&cf.priority, "priority", 500, "container request priority")
	flags.BoolVar(&cf.preemptible, "preemptible", true, "request preemptible instance")
	flags.IntVar(&cf.vcpus, "arvados-vcpus", vcpus, "number of VCPUs to request for arvados container")
	flags.Int64Var(&cf.ram, "arvados-ram", ram, "amount of memory to request for arvados container (`bytes`)")
}

func (cf *containerFlags) Runner(name string) *arvadosContainerRunner {
	return &arvadosContainerRunner{
		Name:        name,
		Client:      arvados.NewClientFromEnv(),
		ProjectUUID: cf.projectUUID,
		VCPUs:       cf.vcpus,
		RAM:         cf.ram,
		Priority:    cf.priority,
		Preemptible: cf.preemptible,
	}
}

func (runner *arvadosContainerRunner) Run() (string, error) {
	return runner.RunContext(context.Background())
}

// RunContext submits a container request and polls it until it is
// final. It returns the UUID of the output collection.
func (runner *arvadosContainerRunner) RunContext(ctx context.Context) (string, error) {
	if runner.ProjectUUID == "" {
		return "", errors.New("cannot run arvados container: ProjectUUID not provided")
	}

	mounts := map[string]map[string]interface{}{
		"/mnt/output": {
			"kind":     "collection",
			"writable": true,
		},
	}
	for path, mnt := range runner.Mounts {
		mounts[path] = mnt
	}

	prog := runner.Prog
	if prog == "" {
		prog = "/mnt/cmd/asaph"
		cmdUUID, err := runner.makeCommandCollection()
		if err != nil {
			return "", err
		}
		mounts["/mnt/cmd"] = map[string]interface{}{
			"kind": "collection",
			"uuid": cmdUUID,
		}
	}
	command := append([]string{prog}, runner.Args...)

	priority := runner.Priority
	if priority < 1 {
		priority = 500
	}
	keepCache := runner.KeepCache
	if keepCache < 1 {
		keepCache = 2
	}
	rc := arvados.RuntimeConstraints{
		VCPUs:        runner.VCPUs,
		RAM:          runner.RAM,
		KeepCacheRAM: (1 << 26) * int64(keepCache) * int64(runner.VCPUs),
	}
	outname := &runner.OutputName
	if *outname == "" {
		outname = nil
	}
	var cr arvados.ContainerRequest
	err := runner.Client.RequestAndDecode(&cr, "POST", "arvados/v1/container_requests", nil, map[string]interface{}{
		"container_request": map[string]interface{}{
			"owner_uuid":          runner.ProjectUUID,
			"name":                runner.Name,
			"container_image":     runtimeImage,
			"command":             command,
			"mounts":              mounts,
			"use_existing":        true,
			"output_path":         "/mnt/output",
			"output_name":         outname,
			"runtime_constraints": rc,
			"priority":            priority,
			"state":               arvados.ContainerRequestStateCommitted,
			"scheduling_parameters": arvados.SchedulingParameters{
				Preemptible: runner.Preemptible,
				Partitions:  []string{},
			},
			"environment": map[string]string{
				"GOMAXPROCS": fmt.Sprintf("%d", rc.VCPUs),
			},
			"container_count_max": 1,
		},
	})
	if err != nil {
		return "", err
	}
	log.Printf("container request UUID: %s", cr.UUID)

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	lastState := cr.State
waitcr:
	for cr.State != arvados.ContainerRequestStateFinal {
		select {
		case <-ctx.Done():
			err := runner.Client.RequestAndDecode(&cr, "PATCH", "arvados/v1/container_requests/"+cr.UUID, nil, map[string]interface{}{
				"container_request": map[string]interface{}{
					"priority": 0,
				},
			})
			if err != nil {
				log.Errorf("error while trying to cancel container request %s: %s", cr.UUID, err)
			}
			break waitcr
		case <-ticker.C:
			reqctx, cancel := context.WithTimeout(ctx, time.Minute)
			err := runner.Client.RequestAndDecodeContext(reqctx, &cr, "GET", "arvados/v1/container_requests/"+cr.UUID, nil, nil)
			cancel()
			if err != nil {
				log.Printf("error getting container request: %s", err)
				continue
			}
			if lastState != cr.State {
				log.Printf("container request state: %s (container %s)", cr.State, cr.ContainerUUID)
				lastState = cr.State
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var c arvados.Container
	err = runner.Client.RequestAndDecode(&c, "GET", "arvados/v1/containers/"+cr.ContainerUUID, nil, nil)
	if err != nil {
		return "", err
	} else if c.State != arvados.ContainerStateComplete {
		return "", fmt.Errorf("container did not complete: %s", c.State)
	} else if c.ExitCode != 0 {
		return "", fmt.Errorf("container exited %d", c.ExitCode)
	}
	return cr.OutputUUID, nil
}

var collectionInPathRe = regexp.MustCompile(`^(.*/)?([0-9a-f]{32}\+[0-9]+|[0-9a-z]{5}-[0-9a-z]{5}-[0-9a-z]{15})(/.*)?$`)

// TranslatePaths rewrites collection paths (".../<uuid-or-pdh>/...")
// to container mount points, adding the necessary mounts.
func (runner *arvadosContainerRunner) TranslatePaths(paths ...*string) error {
	if runner.Mounts == nil {
		runner.Mounts = make(map[string]map[string]interface{})
	}
	for _, path := range paths {
		if *path == "" || *path == "-" {
			continue
		}
		m := collectionInPathRe.FindStringSubmatch(*path)
		if m == nil {
			return fmt.Errorf("cannot find uuid in path: %q", *path)
		}
		collID := m[2]
		mnt, ok := runner.Mounts["/mnt/"+collID]
		if !ok {
			mnt = map[string]interface{}{
				"kind": "collection",
			}
			if len(collID) == 27 {
				mnt["uuid"] = collID
			} else {
				mnt["portable_data_hash"] = collID
			}
			runner.Mounts["/mnt/"+collID] = mnt
		}
		*path = "/mnt/" + collID + m[3]
	}
	return nil
}

var mtxMakeCommandCollection sync.Mutex

// makeCommandCollection stores the running executable in a collection
// (reusing an existing one with the same content hash) and returns its
// UUID.
func (runner *arvadosContainerRunner) makeCommandCollection() (string, error) {
	mtxMakeCommandCollection.Lock()
	defer mtxMakeCommandCollection.Unlock()
	exe, err := os.ReadFile("/proc/self/exe")
	if err != nil {
		return "", err
	}
	b2 := fmt.Sprintf("%x", blake2b.Sum256(exe))
	cname := "asaph " + cmd.Version.String()
	var existing arvados.CollectionList
	err = runner.Client.RequestAndDecode(&existing, "GET", "arvados/v1/collections", nil, arvados.ListOptions{
		Limit: 1,
		Count: "none",
		Filters: []arvados.Filter{
			{Attr: "name", Operator: "=", Operand: cname},
			{Attr: "owner_uuid", Operator: "=", Operand: runner.ProjectUUID},
			{Attr: "properties.blake2b", Operator: "=", Operand: b2},
		},
	})
	if err != nil {
		return "", err
	}
	if len(existing.Items) > 0 {
		coll := existing.Items[0]
		log.Printf("using asaph binary in existing collection %s", coll.UUID)
		return coll.UUID, nil
	}
	log.Printf("writing asaph binary to new collection %q", cname)
	ac, err := arvadosclient.New(runner.Client)
	if err != nil {
		return "", err
	}
	kc := keepclient.New(ac)
	var coll arvados.Collection
	fs, err := coll.FileSystem(runner.Client, kc)
	if err != nil {
		return "", err
	}
	f, err := fs.OpenFile("asaph", os.O_CREATE|os.O_WRONLY, 0777)
	if err != nil {
		return "", err
	}
	_, err = f.Write(exe)
	if err != nil {
		return "", err
	}
	err = f.Close()
	if err != nil {
		return "", err
	}
	mtxt, err := fs.MarshalManifest(".")
	if err != nil {
		return "", err
	}
	err = runner.Client.RequestAndDecode(&coll, "POST", "arvados/v1/collections", nil, map[string]interface{}{
		"collection": map[string]interface{}{
			"owner_uuid":    runner.ProjectUUID,
			"manifest_text": mtxt,
			"name":          cname,
			"properties": map[string]interface{}{
				"blake2b": b2,
			},
		},
	})
	if err != nil {
		return "", err
	}
	log.Printf("stored asaph binary in new collection %s", coll.UUID)
	return coll.UUID, nil
}

// zopen returns a reader for the given file, transparently
// decompressing the input if fnm ends with ".gz" or ".zst".
func zopen(fnm string) (io.ReadCloser, error) {
	f, err := os.Open(fnm)
	if err != nil {
		return nil, err
	}
	bufr := bufio.NewReaderSize(f, 4*1024*1024)
	switch {
	case strings.HasSuffix(fnm, ".gz"):
		rdr, err := pgzip.NewReader(bufr)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%s: %w", fnm, err)
		}
		return zreader{rdr, f}, nil
	case strings.HasSuffix(fnm, ".zst"):
		dec, err := zstd.NewReader(bufr)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%s: %w", fnm, err)
		}
		return zreader{dec.IOReadCloser(), f}, nil
	default:
		return f, nil
	}
}

// zreader wraps a ReadCloser and a Closer, presenting a single Close()
// method that closes both wrapped objects.
type zreader struct {
	io.ReadCloser
	io.Closer
}

func (zr zreader) Close() error {
	e1 := zr.ReadCloser.Close()
	e2 := zr.Closer.Close()
	if e1 != nil {
		return e1
	}
	return e2
}
