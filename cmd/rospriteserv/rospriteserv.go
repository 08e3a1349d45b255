// Binary rospriteserv serves rendered sprite frames over HTTP, backed
// by the configured asset sources and the three-tier frame cache.
package main

import (
	"flag"
	"net/http"
	"os"

	"github.com/golang/glog"
	ghandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/EndurnyrProject/lifthrasir/config"
	"github.com/EndurnyrProject/lifthrasir/render"
	"github.com/EndurnyrProject/lifthrasir/sprcache"
	"github.com/EndurnyrProject/lifthrasir/web"
)

var (
	listenAddress = flag.String("listen_address", ":8080", "http listen address for rospriteserv")
	configPath    = flag.String("config", "lifthrasir.toml", "path to the configuration file")
	writeConfig   = flag.Bool("write_default_config", false, "write the default configuration to --config and exit")
)

func main() {
	flag.Parse()

	if *writeConfig {
		if err := config.SaveDefault(*configPath); err != nil {
			glog.Exitf("writing default config: %v", err)
		}
		glog.Infof("wrote default config to %s", *configPath)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		glog.Exitf("loading config: %v", err)
	}

	resolver, err := cfg.BuildComposite()
	if err != nil {
		glog.Exitf("assembling asset sources: %v", err)
	}

	cache, err := sprcache.New(render.New(resolver), cfg.Cache.Dir, cfg.Cache.MemoryCapacity)
	if err != nil {
		glog.Exitf("opening sprite cache: %v", err)
	}

	r := mux.NewRouter()
	web.NewHandler(cache).RegisterRoutes(r)

	glog.Infof("rospriteserv listening on %s", *listenAddress)
	glog.Fatal(http.ListenAndServe(*listenAddress, ghandlers.CombinedLoggingHandler(os.Stdout, r)))
}
