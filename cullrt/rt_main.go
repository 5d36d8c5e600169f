package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/gekko3d/grasscull"
	"github.com/gekko3d/grasscull/cullrt/rt/app"
	"github.com/gekko3d/grasscull/cullrt/rt/core"
	"github.com/gekko3d/grasscull/cullrt/rt/store"

	"github.com/go-gl/glfw/v3.3/glfw"
)

func init() {
	runtime.LockOSThread()
}

type scene struct {
	db       core.InstanceDatabase
	vertices []byte
	indices  []uint32
	close    func()
}

func loadScene(cfg grasscull.Config, logger grasscull.Logger) (*scene, error) {
	if cfg.DatabasePath == "" {
		demo := app.NewDemoScene(cfg.DemoInstances, cfg.DemoSeed)
		return &scene{db: demo.DB, vertices: demo.Vertices, indices: demo.Indices, close: func() {}}, nil
	}

	db, err := store.Open(cfg.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	vertices, indices, ok, err := db.Geometry()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if !ok {
		_ = db.Close()
		return nil, fmt.Errorf("%s has no mesh geometry", cfg.DatabasePath)
	}
	return &scene{db: db, vertices: vertices, indices: indices, close: func() { _ = db.Close() }}, nil
}

// exportDemo writes the procedural demo into a sqlite database.
func exportDemo(path string, cfg grasscull.Config, logger grasscull.Logger) error {
	demo := app.NewDemoScene(cfg.DemoInstances, cfg.DemoSeed)
	db, err := store.Open(path, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ids, _ := demo.DB.PrototypeIDs()
	for _, id := range ids {
		p, _ := demo.DB.Prototype(id)
		if err := db.SavePrototypes(p); err != nil {
			return err
		}
	}
	records, _ := demo.DB.Instances()
	if err := db.SaveInstances(records); err != nil {
		return err
	}
	if err := db.SaveGeometry(demo.Vertices, demo.Indices); err != nil {
		return err
	}
	logger.Infof("exported %d instances to %s", len(records), path)
	return nil
}

func main() {
	cfg := grasscull.DefaultConfig()
	cfg.RegisterFlags(flag.CommandLine)
	export := flag.String("export-demo", "", "write the procedural demo to this sqlite file and exit")
	flag.Parse()

	logger := grasscull.NewDefaultLogger("cullrt", cfg.Debug)
	if err := cfg.Validate(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(2)
	}

	if *export != "" {
		if err := exportDemo(*export, cfg, logger); err != nil {
			logger.Errorf("export: %v", err)
			os.Exit(1)
		}
		return
	}

	sc, err := loadScene(cfg, logger)
	if err != nil {
		logger.Errorf("load scene: %v", err)
		os.Exit(1)
	}
	defer sc.close()

	if err := glfw.Init(); err != nil {
		panic(err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(cfg.Width, cfg.Height, cfg.Title, nil, nil)
	if err != nil {
		panic(err)
	}
	defer window.Destroy()

	application := app.NewApp(window, cfg, logger)
	defer application.Release()
	if err := application.Init(sc.db, sc.vertices, sc.indices); err != nil {
		logger.Errorf("init: %v", err)
		return
	}
	if cfg.HiZDumpPath != "" {
		application.RequestHiZDump()
	}

	window.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		application.Resize(width, height)
	})

	window.SetCursorPosCallback(func(w *glfw.Window, xpos, ypos float64) {
		dx, dy := xpos-application.MouseX, ypos-application.MouseY
		application.MouseX = xpos
		application.MouseY = ypos
		application.Look(dx, dy)
	})

	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if key == glfw.KeyTab && action == glfw.Press {
			application.MouseCaptured = !application.MouseCaptured
			if application.MouseCaptured {
				w.SetInputMode(glfw.CursorMode, glfw.CursorDisabled) // Use Disabled for relative movement
			} else {
				w.SetInputMode(glfw.CursorMode, glfw.CursorNormal)
			}
		}
		if key == glfw.KeyEscape && action == glfw.Press {
			w.SetShouldClose(true)
		}
		application.HandleKey(key, action)
	})

	for !window.ShouldClose() {
		glfw.PollEvents()
		application.Update()
		if err := application.Render(); err != nil {
			logger.Errorf("render: %v", err)
			break
		}
	}
}
