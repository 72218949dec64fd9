package transport

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dreamware/jiffy/internal/block"
	"github.com/dreamware/jiffy/internal/chain"
	"github.com/dreamware/jiffy/internal/management"
	"github.com/dreamware/jiffy/internal/partition"
)

// NextDialer resolves a block name into a live chain.NextLink, letting
// the chain surface's reset call rewire a replica's downstream
// connection in place. transport.Dialer satisfies this the same way it
// satisfies management.LinkDialer's DialNext method.
type NextDialer interface {
	DialNext(blockName string) (chain.NextLink, error)
}

// NewCommandHandler builds the HTTP router for one process's command
// surface (spec §4.6): get_client_id, register_client_id, command_request,
// each scoped to a slot index in the path. This is meant to be served on
// the process's service_port.
func NewCommandHandler(server *block.Server) http.Handler {
	r := chi.NewRouter()

	r.Post("/command/{slot}/client", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, int64Wire{Value: server.GetClientID()})
	})

	r.Post("/command/{slot}/register/{clientID}", func(w http.ResponseWriter, req *http.Request) {
		slot, _, slotErr := slotAndClientID(req)
		if slotErr != nil {
			writeError(w, http.StatusBadRequest, slotErr)
			return
		}
		if _, err := server.Slot(slot); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		// register_client_id exists on the wire for spec compatibility, but
		// this transport is plain request/response: command_request's own
		// return value already carries the result, so there is no
		// server-push channel to bind a client id to. Validating the slot
		// exists is all there is to do.
		writeJSON(w, http.StatusNoContent, nil)
	})

	r.Post("/command/{slot}/request", func(w http.ResponseWriter, req *http.Request) {
		slot, err := slotParam(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		s, err := server.Slot(slot)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		var in commandRequestWire
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, cmdErr := s.CommandRequest(req.Context(), in.Seq, in.CmdID, in.Args, in.ClientID)
		out := commandResponseWire{Response: resp}
		if cmdErr != nil {
			out.Error = cmdErr.Error()
		}
		writeJSON(w, http.StatusOK, out)
	})

	return r
}

// NewChainHandler builds the HTTP router for one process's chain surface:
// chain_request, chain_ack, run_command_on_next, and the chain link reset
// call, each scoped to a slot index. Meant to be served on the process's
// chain_port. dialer resolves the reset call's target block name into a
// live next-link (spec §5's failure-recovery rewiring); pass
// transport.Dialer{} outside of tests.
func NewChainHandler(server *block.Server, dialer NextDialer) http.Handler {
	r := chi.NewRouter()

	r.Post("/chain/{slot}/request", func(w http.ResponseWriter, req *http.Request) {
		engine, err := slotEngine(server, req)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		var in chainRequestWire
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := engine.ChainRequest(req.Context(), in.toOp()); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusNoContent, nil)
	})

	r.Post("/chain/{slot}/ack", func(w http.ResponseWriter, req *http.Request) {
		engine, err := slotEngine(server, req)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		var in chainAckWire
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		var cmdErr error
		if in.Error != "" {
			cmdErr = errString(in.Error)
		}
		if err := engine.Ack(req.Context(), in.Seq, in.Response, cmdErr); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusNoContent, nil)
	})

	r.Post("/chain/{slot}/run", func(w http.ResponseWriter, req *http.Request) {
		engine, err := slotEngine(server, req)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		var in runCommandWire
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, execErr := engine.Partition().Execute(in.CmdID, in.Args)
		out := commandResponseWire{Response: resp}
		if execErr != nil {
			out.Error = execErr.Error()
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Post("/chain/{slot}/reset", func(w http.ResponseWriter, req *http.Request) {
		engine, err := slotEngine(server, req)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		var in resetLinkWire
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if partition.IsNil(in.BlockName) {
			engine.SetNext(nil)
			writeJSON(w, http.StatusNoContent, nil)
			return
		}
		next, err := dialer.DialNext(in.BlockName)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		engine.SetNext(next)
		writeJSON(w, http.StatusNoContent, nil)
	})

	return r
}

// NewManagementHandler builds the HTTP router for one process's
// management surface (spec §6), scoped to a slot index where the
// operation targets one. Meant to be served on the process's mgmt_port.
func NewManagementHandler(mgmt *management.Management) http.Handler {
	r := chi.NewRouter()

	// /health is process-wide, not slot-scoped: directory.HealthMonitor's
	// default check just wants to know the process is alive and serving
	// its management surface at all.
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Post("/management/{slot}/setup_block", func(w http.ResponseWriter, req *http.Request) {
		slot, err := slotParam(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		var in setupBlockWire
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := mgmt.SetupBlock(req.Context(), slot, management.SetupBlockRequest(in)); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusNoContent, nil)
	})

	r.Get("/management/path", func(w http.ResponseWriter, req *http.Request) {
		blockName := req.URL.Query().Get("block_name")
		writeJSON(w, http.StatusOK, pathWire{Path: mgmt.Path(blockName)})
	})

	r.Post("/management/{slot}/load", func(w http.ResponseWriter, req *http.Request) {
		slot, in, err := slotAndPath(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := mgmt.Load(slot, in.Path); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusNoContent, nil)
	})

	r.Post("/management/{slot}/sync", func(w http.ResponseWriter, req *http.Request) {
		slot, in, err := slotAndPath(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		flushed, err := mgmt.Sync(slot, in.Path)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, flushedWire{Flushed: flushed})
	})

	r.Post("/management/{slot}/dump", func(w http.ResponseWriter, req *http.Request) {
		slot, in, err := slotAndPath(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		flushed, err := mgmt.Dump(slot, in.Path)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, flushedWire{Flushed: flushed})
	})

	r.Post("/management/{slot}/reset", func(w http.ResponseWriter, req *http.Request) {
		slot, err := slotParam(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := mgmt.Reset(slot); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusNoContent, nil)
	})

	r.Get("/management/{slot}/storage_capacity", func(w http.ResponseWriter, req *http.Request) {
		slot, err := slotParam(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		v, err := mgmt.StorageCapacity(slot)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, int64Wire{Value: v})
	})

	r.Get("/management/{slot}/storage_size", func(w http.ResponseWriter, req *http.Request) {
		slot, err := slotParam(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		v, err := mgmt.StorageSize(slot)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, int64Wire{Value: v})
	})

	r.Post("/management/{slot}/resend_pending", func(w http.ResponseWriter, req *http.Request) {
		slot, err := slotParam(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := mgmt.ResendPending(req.Context(), slot); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusNoContent, nil)
	})

	r.Post("/management/{slot}/forward_all", func(w http.ResponseWriter, req *http.Request) {
		slot, err := slotParam(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := mgmt.ForwardAll(req.Context(), slot); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusNoContent, nil)
	})

	return r
}

func slotParam(req *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(req, "slot"))
}

func slotAndClientID(req *http.Request) (int, int64, error) {
	slot, err := slotParam(req)
	if err != nil {
		return 0, 0, err
	}
	clientID, err := strconv.ParseInt(chi.URLParam(req, "clientID"), 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return slot, clientID, nil
}

func slotAndPath(req *http.Request) (int, pathWire, error) {
	slot, err := slotParam(req)
	if err != nil {
		return 0, pathWire{}, err
	}
	var in pathWire
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		return 0, pathWire{}, err
	}
	return slot, in, nil
}

func slotEngine(server *block.Server, req *http.Request) (*chain.Engine, error) {
	slot, err := slotParam(req)
	if err != nil {
		return nil, err
	}
	s, err := server.Slot(slot)
	if err != nil {
		return nil, err
	}
	engine, ok := s.Engine()
	if !ok {
		return nil, block.ErrSlotUnbound
	}
	return engine, nil
}

// errString is a minimal error type for reconstructing a command error
// from its wire string form — acks never need to distinguish error kinds
// on the receiving end, only that the command-level call failed.
type errString string

func (e errString) Error() string { return string(e) }
