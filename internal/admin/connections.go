package admin

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/herihandoko/apimanager-new-sub000/internal/broker"
	"github.com/herihandoko/apimanager-new-sub000/internal/crypto"
	"github.com/herihandoko/apimanager-new-sub000/internal/database"
)

// ConnBroker is wired from main so connection mutations can drop cached
// handles.
var ConnBroker *broker.Broker

type connectionInput struct {
	Name     string `json:"name"`
	Driver   string `json:"driver"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Username string `json:"username"`
	Password string `json:"password"`
	UseTLS   bool   `json:"use_tls"`

	UseTunnel     bool   `json:"use_tunnel"`
	SSHHost       string `json:"ssh_host"`
	SSHPort       int    `json:"ssh_port"`
	SSHUser       string `json:"ssh_user"`
	SSHPassword   string `json:"ssh_password"`
	SSHPrivateKey string `json:"ssh_private_key"`
	LocalPort     int    `json:"local_port"`

	Active *bool `json:"active"`
}

func (in *connectionInput) validate() string {
	if in.Name == "" {
		return "name is required"
	}
	switch strings.ToLower(in.Driver) {
	case "mysql", "postgres", "sqlite":
	default:
		return "driver must be one of mysql, postgres, sqlite"
	}
	if in.UseTunnel {
		if in.SSHHost == "" || in.SSHPort <= 0 || in.SSHUser == "" {
			return "use_tunnel requires ssh_host, ssh_port and ssh_user"
		}
		if in.SSHPassword == "" && in.SSHPrivateKey == "" {
			return "use_tunnel requires ssh_password or ssh_private_key"
		}
		// The forwarded local port must stay clear of ports already in live
		// use: the database's own port and the SSH port.
		if in.LocalPort != 0 && (in.LocalPort == in.Port || in.LocalPort == in.SSHPort) {
			return "local_port must differ from the database and ssh ports"
		}
	}
	return ""
}

func (in *connectionInput) apply(c *database.DatabaseConnection) error {
	c.Name = in.Name
	c.Driver = strings.ToLower(in.Driver)
	c.Host = in.Host
	c.Port = in.Port
	c.DBName = in.DBName
	c.Username = in.Username
	c.UseTLS = in.UseTLS
	c.UseTunnel = in.UseTunnel
	c.SSHHost = in.SSHHost
	c.SSHPort = in.SSHPort
	c.SSHUser = in.SSHUser
	c.LocalPort = in.LocalPort
	if in.Active != nil {
		c.Active = *in.Active
	}

	// Blank credential fields keep their stored value on update.
	if in.Password != "" {
		enc, err := crypto.Encrypt(in.Password)
		if err != nil {
			return err
		}
		c.Password = enc
	}
	if in.SSHPassword != "" {
		enc, err := crypto.Encrypt(in.SSHPassword)
		if err != nil {
			return err
		}
		c.SSHPassword = enc
	}
	if in.SSHPrivateKey != "" {
		enc, err := crypto.Encrypt(in.SSHPrivateKey)
		if err != nil {
			return err
		}
		c.SSHPrivateKey = enc
	}
	return nil
}

func ListConnections(w http.ResponseWriter, r *http.Request) {
	var conns []database.DatabaseConnection
	if err := database.DB.Order("id").Find(&conns).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list connections")
		return
	}
	writeJSON(w, http.StatusOK, conns)
}

func GetConnectionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid connection id")
		return
	}
	c, err := database.GetConnection(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func CreateConnection(w http.ResponseWriter, r *http.Request) {
	var in connectionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := in.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	c := database.DatabaseConnection{Active: true}
	if err := in.apply(&c); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encrypt credentials")
		return
	}

	if err := database.DB.Create(&c).Error; err != nil {
		writeError(w, http.StatusConflict, "connection name already exists")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func UpdateConnection(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid connection id")
		return
	}

	var c database.DatabaseConnection
	if err := database.DB.First(&c, id).Error; err != nil {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}

	var in connectionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := in.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := in.apply(&c); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encrypt credentials")
		return
	}

	if err := database.DB.Save(&c).Error; err != nil {
		writeError(w, http.StatusConflict, "failed to update connection")
		return
	}

	// The edited config must not be served from a stale cached handle.
	if ConnBroker != nil {
		ConnBroker.Invalidate(c.ID)
	}
	writeJSON(w, http.StatusOK, c)
}

func DeleteConnection(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid connection id")
		return
	}

	var queryCount int64
	database.DB.Model(&database.DynamicQuery{}).Where("connection_id = ?", id).Count(&queryCount)
	if queryCount > 0 {
		writeError(w, http.StatusConflict, "connection is referenced by dynamic queries")
		return
	}

	result := database.DB.Delete(&database.DatabaseConnection{}, id)
	if result.RowsAffected == 0 {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	if ConnBroker != nil {
		ConnBroker.Invalidate(id)
	}
	w.WriteHeader(http.StatusNoContent)
}
